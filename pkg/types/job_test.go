package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingJobDataValidate(t *testing.T) {
	valid := EmbeddingJobData{
		EntityID:    "note-1",
		EntityType:  "note",
		ContentHash: HashContent("body"),
		Operation:   EmbeddingOpCreate,
	}

	tests := []struct {
		name    string
		mutate  func(*EmbeddingJobData)
		wantErr string
	}{
		{"valid create", func(d *EmbeddingJobData) {}, ""},
		{"valid update", func(d *EmbeddingJobData) { d.Operation = EmbeddingOpUpdate }, ""},
		{"missing id", func(d *EmbeddingJobData) { d.EntityID = "" }, "id"},
		{"missing type", func(d *EmbeddingJobData) { d.EntityType = "" }, "entityType"},
		{"missing hash", func(d *EmbeddingJobData) { d.ContentHash = "" }, "contentHash"},
		{"bad operation", func(d *EmbeddingJobData) { d.Operation = "reindex" }, "operation"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := valid
			tc.mutate(&d)
			err := d.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.wantErr, ve.Field)
		})
	}
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(&ValidationError{Field: "x", Message: "bad"}))
	assert.True(t, IsValidation(ValidationErrors{{Field: "x", Message: "bad"}}))
	assert.False(t, IsValidation(ErrNotFound))
	assert.False(t, IsValidation(nil))
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "title", Message: "must be a string"},
		{Field: "tags", Message: "must be an array"},
	}
	assert.Equal(t, "2 validation errors: title: must be a string; tags: must be an array", errs.Error())

	single := ValidationErrors{{Field: "title", Message: "must be a string"}}
	assert.Equal(t, "title: must be a string", single.Error())
}
