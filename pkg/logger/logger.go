package logger

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	logDirectory = "/kubeshare/log/"
)

type KubeShareFormatter struct {
}

func (ksf *KubeShareFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	var newLog string
	fileName := path.Base(entry.Caller.File)
	level := entry.Level.String()
	if len(level) > 4 {
		level = level[:4]
	}
	level = strings.ToUpper(level)
	newLog = fmt.Sprintf("%s %s: %s:%d %s", timestamp, level, fileName, entry.Caller.Line, entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		newLog += fmt.Sprintf(" %s=%v", k, entry.Data[k])
	}
	newLog += "\n"
	b.WriteString(newLog)
	return b.Bytes(), nil
}

func sortedKeys(fields logrus.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func New(level int64, filename string) *logrus.Logger {
	level += 2
	if level > 5 || level < 2 {
		level = 4 // Info
	}
	logger := logrus.New()
	logger.SetLevel(logrus.AllLevels[level])
	logger.SetReportCaller(true)
	logger.SetFormatter(&KubeShareFormatter{})
	os.MkdirAll(logDirectory, os.ModePerm)
	filePath := fmt.Sprintf(logDirectory + filename)
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatal(err)
	}
	logger.SetOutput(file)
	return logger
}

// staticFieldHook stamps every entry passing through a logger with a fixed
// set of fields, without requiring every call site to switch from
// *logrus.Logger to *logrus.Entry.
type staticFieldHook struct {
	fields logrus.Fields
}

func (h *staticFieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *staticFieldHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, exists := entry.Data[k]; !exists {
			entry.Data[k] = v
		}
	}
	return nil
}

// WithGPU stamps every subsequent line ksl logs with the UUID of the
// single device a per-GPU daemon owns, so interleaved logs from several
// such daemons on one node stay attributable.
func WithGPU(ksl *logrus.Logger, uuid string) {
	ksl.AddHook(&staticFieldHook{fields: logrus.Fields{"gpu": uuid}})
}
