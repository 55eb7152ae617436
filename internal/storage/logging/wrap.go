package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/booksden/internal/storage"
)

const tracerName = "pkt.systems/booksden/storage"

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
	tracer trace.Tracer
	sys    string
}

type collection struct {
	backend *backend
	name    string
	inner   storage.Collection
}

// Wrap decorates inner with trace spans and debug logging.
func Wrap(inner storage.Backend, logger pslog.Logger, sys string) storage.Backend {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &backend{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		sys:    sys,
	}
}

// Unwrap returns the decorated backend.
func Unwrap(b storage.Backend) storage.Backend {
	if w, ok := b.(*backend); ok {
		return w.inner
	}
	return b
}

func (b *backend) Collection(name string) storage.Collection {
	return &collection{backend: b, name: name, inner: b.inner.Collection(name)}
}

func (b *backend) Ping(ctx context.Context) error {
	ctx, span, logger, begin, finish := b.start(ctx, "ping", "")
	defer span.End()
	err := b.inner.Ping(ctx)
	finish(err)
	if err != nil {
		logger.Debug("storage.ping.error", "error", err, "elapsed", time.Since(begin))
		return err
	}
	logger.Trace("storage.ping.success", "elapsed", time.Since(begin))
	return nil
}

func (b *backend) Close(ctx context.Context) error {
	ctx, span, logger, begin, finish := b.start(ctx, "close", "")
	defer span.End()
	err := b.inner.Close(ctx)
	finish(err)
	if err != nil {
		logger.Warn("storage.close.error", "error", err, "elapsed", time.Since(begin))
		return err
	}
	logger.Debug("storage.close.success", "elapsed", time.Since(begin))
	return nil
}

func (b *backend) start(ctx context.Context, op, coll string) (context.Context, trace.Span, pslog.Logger, time.Time, func(error)) {
	begin := time.Now()
	ctx, span := b.tracer.Start(ctx, "booksden.storage."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("booksden.storage.operation", op),
		attribute.String("booksden.sys", b.sys),
	)
	if coll != "" {
		span.SetAttributes(attribute.String("db.collection.name", coll))
	}
	logger := b.logger
	if ctxLogger := pslog.LoggerFromContext(ctx); ctxLogger != nil {
		logger = ctxLogger
	}
	logger = logger.With("storage_op", op)
	if coll != "" {
		logger = logger.With("collection", coll)
	}
	return ctx, span, logger, begin, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("booksden.storage.duration_ms", time.Since(begin).Milliseconds()))
	}
}

func (c *collection) Find(ctx context.Context, filter storage.Filter) ([]storage.Document, error) {
	ctx, span, logger, begin, finish := c.backend.start(ctx, "find", c.name)
	defer span.End()
	logger.Trace("storage.find.begin", "filter_fields", len(filter))
	docs, err := c.inner.Find(ctx, filter)
	finish(err)
	if err != nil {
		logger.Debug("storage.find.error", "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	span.SetAttributes(attribute.Int("booksden.storage.documents", len(docs)))
	logger.Debug("storage.find.success", "documents", len(docs), "elapsed", time.Since(begin))
	return docs, nil
}

func (c *collection) FindOne(ctx context.Context, filter storage.Filter) (storage.Document, error) {
	ctx, span, logger, begin, finish := c.backend.start(ctx, "find_one", c.name)
	defer span.End()
	logger.Trace("storage.find_one.begin", "filter_fields", len(filter))
	doc, err := c.inner.FindOne(ctx, filter)
	finish(err)
	if err != nil {
		logger.Debug("storage.find_one.error", "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("booksden.storage.found", doc != nil))
	logger.Debug("storage.find_one.success", "found", doc != nil, "elapsed", time.Since(begin))
	return doc, nil
}

func (c *collection) InsertOne(ctx context.Context, doc storage.Document) (storage.InsertResult, error) {
	ctx, span, logger, begin, finish := c.backend.start(ctx, "insert_one", c.name)
	defer span.End()
	logger.Trace("storage.insert_one.begin", "fields", len(doc))
	res, err := c.inner.InsertOne(ctx, doc)
	finish(err)
	if err != nil {
		logger.Debug("storage.insert_one.error", "error", err, "elapsed", time.Since(begin))
		return res, err
	}
	logger.Debug("storage.insert_one.success", "id", res.InsertedID, "elapsed", time.Since(begin))
	return res, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter storage.Filter, set storage.Document, opts storage.UpdateOptions) (storage.UpdateResult, error) {
	ctx, span, logger, begin, finish := c.backend.start(ctx, "update_one", c.name)
	defer span.End()
	span.SetAttributes(attribute.Bool("booksden.storage.upsert", opts.Upsert))
	logger.Trace("storage.update_one.begin", "fields", len(set), "upsert", opts.Upsert)
	res, err := c.inner.UpdateOne(ctx, filter, set, opts)
	finish(err)
	if err != nil {
		logger.Debug("storage.update_one.error", "error", err, "elapsed", time.Since(begin))
		return res, err
	}
	logger.Debug("storage.update_one.success",
		"matched", res.MatchedCount,
		"modified", res.ModifiedCount,
		"upserted", res.UpsertedCount,
		"upserted_id", res.UpsertedID,
		"elapsed", time.Since(begin),
	)
	return res, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter storage.Filter) (storage.DeleteResult, error) {
	ctx, span, logger, begin, finish := c.backend.start(ctx, "delete_one", c.name)
	defer span.End()
	logger.Trace("storage.delete_one.begin", "filter_fields", len(filter))
	res, err := c.inner.DeleteOne(ctx, filter)
	finish(err)
	if err != nil {
		logger.Debug("storage.delete_one.error", "error", err, "elapsed", time.Since(begin))
		return res, err
	}
	logger.Debug("storage.delete_one.success", "deleted", res.DeletedCount, "elapsed", time.Since(begin))
	return res, nil
}
