package logger

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKubeShareFormatter_AppendsFieldsInSortedOrder(t *testing.T) {
	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "granted alpha 225ms",
		Caller:  &runtime.Frame{File: "scheduler.go", Line: 42},
		Data:    logrus.Fields{"gpu": "GPU-abc", "client": "alpha"},
	}

	f := &KubeShareFormatter{}
	out, err := f.Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "scheduler.go:42")
	assert.Contains(t, line, "granted alpha 225ms")
	assert.Contains(t, line, "client=alpha gpu=GPU-abc")
}

func TestKubeShareFormatter_NoFieldsLeavesLineUnchanged(t *testing.T) {
	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "no candidates fit",
		Caller:  &runtime.Frame{File: "scheduler.go", Line: 7},
	}

	f := &KubeShareFormatter{}
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} WARN: scheduler\.go:7 no candidates fit\n$`, string(out))
}

func TestStaticFieldHook_DoesNotOverwriteExistingField(t *testing.T) {
	hook := &staticFieldHook{fields: logrus.Fields{"gpu": "GPU-new"}}
	entry := &logrus.Entry{Data: logrus.Fields{"gpu": "GPU-existing"}}
	require.NoError(t, hook.Fire(entry))
	assert.Equal(t, "GPU-existing", entry.Data["gpu"])
}

func TestWithGPU_StampsEveryLine(t *testing.T) {
	ksl := logrus.New()
	ksl.SetFormatter(&KubeShareFormatter{})
	ksl.SetReportCaller(true)
	var buf bytes.Buffer
	ksl.SetOutput(&buf)

	WithGPU(ksl, "GPU-1")
	ksl.Info("hello")
	ksl.Warn("still here")

	lines := buf.String()
	assert.Contains(t, lines, "gpu=GPU-1")
	assert.Equal(t, 2, bytes.Count([]byte(lines), []byte("gpu=GPU-1")))
}
