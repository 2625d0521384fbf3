package backend

import (
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/schema"
)

// streamSchema returns the stream's schema definition: the latest
// "schema" record of the stream's .config child stream. Streams without
// one return a zero definition, which validates nothing.
func (b *Backend) streamSchema(ctx context.Context, stream *Stream) (schema.Definition, error) {
	var definition schema.Definition

	configStream, err := b.GetStreamByPath(ctx, stream.Pod, stream.Path+"/"+core.SystemStreamPrefix)
	if err != nil {
		if core.AsError(err).Kind == core.KindStreamNotFound {
			return definition, nil
		}
		return definition, err
	}
	record, err := b.latestVisibleRecordByName(ctx, configStream.ID, "schema")
	if err != nil {
		if core.AsError(err).Kind == core.KindRecordNotFound {
			return definition, nil
		}
		return definition, err
	}
	if err := json.Unmarshal([]byte(record.Content), &definition); err != nil {
		return definition, core.NewError(core.KindInternalError, "malformed schema record for stream "+stream.Path).WithCause(err)
	}
	return definition, nil
}

// validateAgainstStreamSchema validates content against the stream's
// schema, if one is defined. Only JSON content is validated; a schema
// restricted by appliesTo to a different content class passes. In warn
// mode a violation is logged and the write proceeds.
func (b *Backend) validateAgainstStreamSchema(ctx context.Context, stream *Stream, content []byte, contentType string) error {
	if !stream.HasSchema {
		return nil
	}
	definition, err := b.streamSchema(ctx, stream)
	if err != nil {
		return err
	}
	if !definition.Enabled() {
		return nil
	}
	if definition.AppliesTo != "" && definition.AppliesTo != "all" &&
		!strings.Contains(contentType, definition.AppliesTo) {
		return nil
	}
	if !strings.Contains(contentType, "json") {
		return nil
	}

	err = b.validator.Validate(stream.Pod, stream.Path, definition, content)
	if err != nil && definition.ValidationMode == schema.ModeWarn {
		logger.FromContext(ctx).WithError(err).Warningln("schema violation accepted in warn mode for", stream.Pod, stream.Path)
		return nil
	}
	return err
}
