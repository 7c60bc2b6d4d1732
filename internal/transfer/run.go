// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/harekaze/internal/fsutil"
	"github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/metrics"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/telemetry"
	"github.com/google/renameio/v2"
	"go.opentelemetry.io/otel/codes"
)

func (m *Manager) run(session *Session, handle *Handle, rec model.Recording) {
	ctx, span := telemetry.Tracer("harekaze.transfer").Start(session.Context(), "harekaze.transfer.download")
	defer span.End()

	size, err := m.transfer(ctx, session.DownloadID, handle)
	canceled := errors.Is(err, context.Canceled) || (err != nil && errors.Is(ctx.Err(), context.Canceled))

	outcome := "completed"
	switch {
	case canceled:
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(telemetry.TransferAttributes(rec.ID, outcome, size)...)

	m.dropHandle(session.DownloadID, handle)
	session.finish(Result{Size: size, Canceled: canceled, Err: err})
}

// transfer streams the media body into a pending file next to the final
// path and renames it into place once the body is complete.
func (m *Manager) transfer(ctx context.Context, id string, handle *Handle) (int64, error) {
	progress := handle.Progress
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer m.sem.Release(1)

	dir, err := fsutil.Child(m.opts.DocumentsDir, id)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	stream, err := m.src.Watch(ctx, id, m.opts.Watch)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stream.Close() }()
	progress.setTotal(stream.ContentLength)

	final := m.FilePath(id)
	pending, err := renameio.NewPendingFile(final, renameio.WithTempDir(dir), renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithContext(ctx, m.logger)
			logger.Debug().Err(err).Str(log.FieldEvent, "transfer.cleanup_failed").Str(log.FieldPath, final).Msg("cleanup pending download")
		}
	}()

	n, err := io.Copy(&countingWriter{w: pending, p: progress}, stream.Body)
	if err != nil {
		return n, fmt.Errorf("receive body: %w", err)
	}
	if n == 0 {
		return 0, errors.New("receive body: empty media body")
	}
	if stream.ContentLength > 0 && n != stream.ContentLength {
		return n, fmt.Errorf("receive body: got %d of %d bytes", n, stream.ContentLength)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	// A Cancel that lands after this point reports false.
	if !m.commit(id, handle) {
		return n, context.Canceled
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("finalise download: %w", err)
	}
	fi, err := os.Stat(final)
	if err != nil {
		return n, fmt.Errorf("stat download: %w", err)
	}
	if m.beforeRecord != nil {
		m.beforeRecord(id)
	}
	// The record is the only completion signal; store it after the rename.
	if err := m.store.SetSize(context.WithoutCancel(ctx), id, fi.Size()); err != nil {
		return fi.Size(), fmt.Errorf("record size: %w", err)
	}
	return fi.Size(), nil
}

type countingWriter struct {
	w io.Writer
	p *Progress
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	if n > 0 {
		c.p.add(int64(n))
		metrics.TransferBytesTotal.Add(float64(n))
	}
	return n, err
}
