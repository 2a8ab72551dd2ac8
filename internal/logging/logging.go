package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter. Unknown levels fall
// back to info; format is "json" or anything else for text.
func Configure(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
