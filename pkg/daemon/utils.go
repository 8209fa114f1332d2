package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger logs every request through logger. Server errors are logged at
// error level, client errors at warn and the rest at debug.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// handlers may rewrite the path
		path := c.Request.URL.Path
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"status":  status,
			"latency": latency.Round(time.Millisecond).String(),
			"method":  c.Request.Method,
			"path":    path,
			"route":   c.FullPath(),
			"bytes":   max(c.Writer.Size(), 0),
		})

		msg := fmt.Sprintf("%s %s %d", c.Request.Method, path, status)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			entry = entry.WithError(errs.Last())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}

// abortWithError writes err as the JSON body and records it for ginLogger.
func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}
