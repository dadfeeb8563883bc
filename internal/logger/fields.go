package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
	// FieldBatch is the structured log field key for the batch (request) id.
	FieldBatch = "batch_id"
	// FieldUser is the structured log field key for the requesting user.
	FieldUser = "user_id"
	// FieldDocument is the structured log field key for the document index within a batch.
	FieldDocument = "document"
	// FieldFilename is the structured log field key for the uploaded filename.
	FieldFilename = "filename"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields returns standard zap fields that describe the AI provider and model.
// Empty values are ignored to keep log entries compact when information is missing.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the common AI fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// BatchFields identify a batch and the user who submitted it.
func BatchFields(batchID, userID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldBatch, Value: batchID},
		StringField{Key: FieldUser, Value: userID},
	)
}

// DocumentFields identify a document inside its batch. The index is always present since
// filenames are not unique.
func DocumentFields(index int, filename string) []zap.Field {
	fields := []zap.Field{zap.Int(FieldDocument, index)}
	return append(fields, StringFields(StringField{Key: FieldFilename, Value: filename})...)
}
