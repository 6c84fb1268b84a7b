package transfer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/rsbulk/internal/frame"
	"github.com/duckmesh/rsbulk/internal/observability"
	"github.com/duckmesh/rsbulk/internal/sqlgen"
	"github.com/duckmesh/rsbulk/internal/storage"
)

type FrameCopyRequest struct {
	Schema string
	Table  string
	Frame  frame.Frame
	Format sqlgen.Format
	// Delimiter applies to csv staging. Empty means ",".
	Delimiter string
	IfExists  IfExists
	// KeepStaged leaves the staged object in place after the load.
	KeepStaged bool
}

type FrameCopyResult struct {
	CopyResult
	StagedKey   string
	StagedURI   string
	StagedBytes int64
	// CleanupErr is set when the staged object could not be removed. It never
	// fails the operation.
	CleanupErr error
}

// CopyFromFrame encodes f, stages it in the object store and loads it with
// COPY. The staged object's size is confirmed before the statement is
// submitted, and the object is removed afterwards whether or not the load
// succeeded. The caller's frame is not modified.
func (o *Orchestrator) CopyFromFrame(ctx context.Context, req FrameCopyRequest) (result FrameCopyResult, err error) {
	o.ensureDefaults()
	ctx, logger := o.begin(ctx, opCopy)
	result = FrameCopyResult{CopyResult: CopyResult{OperationID: observability.OperationIDFromContext(ctx)}}

	if err := o.Credentials.Validate(); err != nil {
		return result, err
	}
	if o.Staging == nil {
		return result, ErrStagingNotConfigured
	}

	format := req.Format
	if format == "" {
		format = sqlgen.FormatCSV
	}
	ext, err := stagingExtension(format)
	if err != nil {
		return result, err
	}
	delimiter := req.Delimiter
	if format == sqlgen.FormatCSV && delimiter == "" {
		delimiter = ","
	}
	normalized, err := req.Frame.Normalize()
	if err != nil {
		return result, &sqlgen.ValidationError{Field: "frame", Reason: err.Error()}
	}

	token := strings.ReplaceAll(o.NewID(), "-", "")
	if len(token) > 12 {
		token = token[:12]
	}
	key, err := storage.BuildStagingKey("", req.Table, o.Clock(), token, ext)
	if err != nil {
		return result, &sqlgen.ValidationError{Field: "table", Value: req.Table, Reason: err.Error()}
	}
	uri, err := o.Staging.URI(key)
	if err != nil {
		return result, &StagingError{Key: key, Err: err}
	}

	opts := sqlgen.ImportOptions{Format: format}
	if format == sqlgen.FormatCSV {
		opts.Delimiter = delimiter
		opts.HasHeaderRow = true
	}
	plan, err := o.planCopy(CopyRequest{
		Schema:   req.Schema,
		Table:    req.Table,
		Source:   uri,
		Options:  opts,
		IfExists: req.IfExists,
	})
	if err != nil {
		return result, err
	}

	payload, err := encodeFrame(normalized, format, delimiter)
	if err != nil {
		return result, &sqlgen.ValidationError{Field: "frame", Reason: err.Error()}
	}
	if _, err := o.Staging.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: contentType(format)}); err != nil {
		return result, &StagingError{Key: key, Err: err}
	}
	observability.AddStagedBytes(int64(len(payload)))
	result.StagedKey = key
	result.StagedURI = uri
	result.StagedBytes = int64(len(payload))
	logger.InfoContext(ctx, "frame staged",
		slog.String("uri", uri),
		slog.Int("rows", normalized.NumRows()),
		slog.Int64("bytes", result.StagedBytes),
	)

	if !req.KeepStaged {
		defer func() {
			cleanupCtx := context.WithoutCancel(ctx)
			if derr := o.Staging.Delete(cleanupCtx, key); derr != nil {
				result.CleanupErr = derr
				logger.WarnContext(ctx, "staged object cleanup failed",
					slog.String("uri", uri),
					slog.Any("error", derr),
				)
			}
		}()
	}

	info, err := o.Staging.Stat(ctx, key)
	if err != nil {
		return result, &StagingError{Key: key, Err: fmt.Errorf("confirm upload: %w", err)}
	}
	if info.Size != result.StagedBytes {
		return result, &StagingError{Key: key, Err: fmt.Errorf("staged object holds %d bytes, uploaded %d", info.Size, result.StagedBytes)}
	}

	err = o.runCopy(ctx, logger, plan, &result.CopyResult)
	return result, err
}

func stagingExtension(format sqlgen.Format) (string, error) {
	switch format {
	case sqlgen.FormatCSV:
		return "csv", nil
	case sqlgen.FormatParquet:
		return "parquet", nil
	default:
		return "", &sqlgen.ValidationError{Field: "format", Value: string(format), Reason: "frames are staged as csv or parquet"}
	}
}

func contentType(format sqlgen.Format) string {
	if format == sqlgen.FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

func encodeFrame(f frame.Frame, format sqlgen.Format, delimiter string) ([]byte, error) {
	if format == sqlgen.FormatParquet {
		return frame.EncodeParquet(f)
	}
	var buf bytes.Buffer
	if err := frame.EncodeCSV(&buf, f, delimiter, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
