package images

import (
	"io"
	"log/slog"

	"github.com/vmlab/vml/internal/logger"
)

func discardLogger() *slog.Logger {
	return logger.New(io.Discard, false)
}
