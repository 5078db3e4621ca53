package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// RegistrySinks are the optional secondary destinations of a registry. Any
// nil sink is skipped.
type RegistrySinks struct {
	Blob        domain.BlobWriter
	Deployments domain.DeploymentStore
	Audit       domain.AuditStore
}

// RegistryWriter persists the registry of a run to a fixed path and then
// mirrors it to the configured sinks.
type RegistryWriter struct {
	path   string
	sinks  RegistrySinks
	logger *slog.Logger
}

// NewRegistryWriter creates a RegistryWriter for path.
func NewRegistryWriter(path string, sinks RegistrySinks, logger *slog.Logger) *RegistryWriter {
	return &RegistryWriter{
		path:   path,
		sinks:  sinks,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// ArchiveKey is the object key a registry is archived under.
func ArchiveKey(reg domain.MarketsRegistry) string {
	network := reg.Network
	if network == "" {
		network = "unknown"
	}
	return fmt.Sprintf("registries/%s/%s.json", network, reg.RunID)
}

// Write serializes reg and replaces the registry file in one rename. Sink
// failures are logged and never change the file or the returned error.
func (w *RegistryWriter) Write(ctx context.Context, reg domain.MarketsRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("deploy: marshal registry: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(w.path, data); err != nil {
		return fmt.Errorf("deploy: write registry %s: %w", w.path, err)
	}
	w.logger.InfoContext(ctx, "registry written",
		slog.String("path", w.path),
		slog.String("run_id", reg.RunID),
		slog.Int("markets", len(reg.Markets)),
	)

	w.archive(ctx, reg, data)
	w.persist(ctx, reg)
	return nil
}

func (w *RegistryWriter) archive(ctx context.Context, reg domain.MarketsRegistry, data []byte) {
	if w.sinks.Blob == nil {
		return
	}
	key := ArchiveKey(reg)
	if err := w.sinks.Blob.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		w.logger.WarnContext(ctx, "registry archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.InfoContext(ctx, "registry archived", slog.String("key", key))
}

func (w *RegistryWriter) persist(ctx context.Context, reg domain.MarketsRegistry) {
	if w.sinks.Deployments != nil {
		for _, m := range reg.Markets {
			if err := w.sinks.Deployments.Insert(ctx, reg.RunID, reg.Network, m); err != nil {
				w.logger.WarnContext(ctx, "deployment insert failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if w.sinks.Audit != nil {
		ids := make([]string, 0, len(reg.Markets))
		for _, m := range reg.Markets {
			ids = append(ids, m.ID)
		}
		err := w.sinks.Audit.Log(ctx, "registry_written", map[string]any{
			"run_id":  reg.RunID,
			"network": reg.Network,
			"path":    w.path,
			"markets": ids,
		})
		if err != nil {
			w.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
}

// ReadRegistry loads a registry file.
func ReadRegistry(path string) (domain.MarketsRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MarketsRegistry{}, fmt.Errorf("deploy: read registry: %w", err)
	}
	var reg domain.MarketsRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return domain.MarketsRegistry{}, fmt.Errorf("deploy: parse registry %s: %w", path, err)
	}
	return reg, nil
}

// VerifyArchive checks that the archived copy of the registry at path holds
// the same bytes as the file. A missing registry file has nothing to verify.
func VerifyArchive(ctx context.Context, r domain.BlobReader, path string) error {
	local, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deploy: read registry: %w", err)
	}
	var reg domain.MarketsRegistry
	if err := json.Unmarshal(local, &reg); err != nil {
		return fmt.Errorf("deploy: parse registry %s: %w", path, err)
	}

	key := ArchiveKey(reg)
	rc, err := r.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("deploy: archive %s: %w", key, err)
	}
	defer rc.Close()
	archived, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("deploy: read archive %s: %w", key, err)
	}
	if !bytes.Equal(local, archived) {
		return fmt.Errorf("deploy: archive %s differs from %s", key, path)
	}
	return nil
}

// VerifyHistory checks that every market of the registry at path was
// recorded in the deployment store under the registry's run id.
func VerifyHistory(ctx context.Context, store domain.DeploymentStore, path string) error {
	reg, err := ReadRegistry(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	rows, err := store.ListByRun(ctx, reg.RunID)
	if err != nil {
		return fmt.Errorf("deploy: history of run %s: %w", reg.RunID, err)
	}
	recorded := make(map[uint64]bool, len(rows))
	for _, m := range rows {
		recorded[m.AppID] = true
	}
	var missing []string
	for _, m := range reg.Markets {
		if !recorded[m.AppID] {
			missing = append(missing, fmt.Sprintf("%s (app %d)", m.ID, m.AppID))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("deploy: run %s missing from history: %s", reg.RunID, strings.Join(missing, ", "))
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial registry.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
