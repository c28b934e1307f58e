package platform

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the process wide application logger. It writes to stderr until
// InitAppLogger points it at a log file.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&LogFormatter{})
	logger.SetOutput(os.Stderr)
	return logger
}

type Hook struct {
	mu       sync.Mutex
	writer   *os.File
	logPath  string
	fileName string
	fileDate string
}

func (hook *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire writes the entry to the current day's file, rotating when the date changes.
func (hook *Hook) Fire(entry *logrus.Entry) error {
	today := time.Now().Format("2006-01-02")
	line, err := entry.String()
	if err != nil {
		return err
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.fileDate != today {
		hook.fileDate = today
		if hook.writer != nil {
			hook.writer.Close()
		}
		filename := fmt.Sprintf("%s/%s-%s.log", hook.logPath, hook.fileDate, hook.fileName)
		hook.writer, err = os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return err
		}
	}
	_, err = hook.writer.Write([]byte(line))
	return err
}

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(b, "[%s] [%s] %s", timestamp, entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// InitFile mirrors the standard logrus logger (used by gin's recovery and
// third party packages) into a daily rotated file under logPath.
func InitFile(logPath string, fileName string) error {
	logrus.SetFormatter(&LogFormatter{})
	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		return err
	}
	logrus.AddHook(&Hook{
		logPath:  logPath,
		fileName: fileName,
	})
	return nil
}

// InitAppLogger sends Logger output to logPath/<date>-<fileName>.log and stderr.
func InitAppLogger(logPath string, fileName string, level string) error {
	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		return err
	}
	timer := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s/%s-%s.log", logPath, timer, fileName)
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	Logger.SetOutput(io.MultiWriter(logFile, os.Stderr))

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		Logger.SetLevel(lvl)
	}
	return nil
}
