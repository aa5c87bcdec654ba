package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

// openStore creates the parent directory of a file or sqlite store, then
// opens it.
func openStore(sc storage.Config, log logx.Logger) (storage.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "file", "sqlite", "sqlite3":
		dir := filepath.Dir(strings.TrimSpace(sc.Path))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage dir %s: %w", dir, err)
		}
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	fields := []logx.Field{logx.String("driver", driver)}
	if sc.Path != "" {
		fields = append(fields, logx.String("path", sc.Path))
	}
	log.Info("storage opened", fields...)
	return st, nil
}
