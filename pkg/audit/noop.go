package audit

// NopRecorder discards all entries. Used when the audit log is disabled.
type NopRecorder struct{}

var _ Recorder = (*NopRecorder)(nil)

// NewNopRecorder creates a recorder that drops everything
func NewNopRecorder() *NopRecorder {
	return &NopRecorder{}
}

// Record discards the entry
func (r *NopRecorder) Record(Entry) {}

// Entries always returns nil
func (r *NopRecorder) Entries() []Entry { return nil }

// Flush is a no-op
func (r *NopRecorder) Flush() error { return nil }

// Close is a no-op
func (r *NopRecorder) Close() error { return nil }
