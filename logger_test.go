package detach

import "testing"

func TestNoOpLogger(t *testing.T) {
	logger := &NoOpLogger{}

	// These should all be safe to call
	logger.Debug("test message", "key", "value")
	logger.Info("test message", "key", "value")
	logger.Warn("test message", "key", "value")
	logger.Error("test message", "key", "value")
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = &NoOpLogger{}
	var _ Logger = &StdLogger{}
	var _ Logger = &ZapLogger{}
}

func TestStdLoggerFormatting(t *testing.T) {
	logger := NewStdLogger("detach")

	testCases := []struct {
		name   string
		fields []interface{}
		want   string
	}{
		{"no fields", nil, ""},
		{"one pair", []interface{}{"key", "value"}, " key=value"},
		{"multiple pairs", []interface{}{"k1", "v1", "k2", 2}, " k1=v1 k2=2"},
		{"odd fields", []interface{}{"k1", "v1", "k2"}, " k1=v1"},
		{"nil value", []interface{}{"err", nil}, " err=<nil>"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatFields(tc.fields); got != tc.want {
				t.Errorf("formatFields() = %q, want %q", got, tc.want)
			}
			// Should not panic
			logger.Info("message", tc.fields...)
		})
	}
}
