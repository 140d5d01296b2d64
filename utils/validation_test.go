package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	Credential string  `json:"credential" validate:"required"`
	Name       *string `json:"name,omitempty" validate:"omitempty,max=10"`
	Picture    *string `json:"profile_picture_url,omitempty" validate:"omitempty,http_url"`
	Limit      int     `validate:"gte=0,lte=100"`
}

func ptr(s string) *string { return &s }

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testRequest{Credential: "abc", Name: ptr("Ana"), Picture: ptr("https://example.com/a.png")}

		err := ValidateStruct(&s)
		assert.NoError(t, err)
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		err := ValidateStruct(&testRequest{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "credential is required", fields["credential"])
	})

	t.Run("non http url", func(t *testing.T) {
		err := ValidateStruct(&testRequest{Credential: "abc", Picture: ptr("ftp://example.com/a.png")})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "profile_picture_url")
	})

	t.Run("name too long", func(t *testing.T) {
		err := ValidateStruct(&testRequest{Credential: "abc", Name: ptr("abcdefghijk")})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "name must be at most 10 characters", fields["name"])
	})

	t.Run("field without json tag keeps struct name", func(t *testing.T) {
		err := ValidateStruct(&testRequest{Credential: "abc", Limit: 101})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "Limit")
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Validation failed"}
	assert.Equal(t, "Validation failed", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{}))
	assert.False(t, IsValidationError(assert.AnError))
	assert.False(t, IsValidationError(nil))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"name": "name is required"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			id, err := ParseID(tt.raw, "id")
			if tt.wantErr {
				assert.EqualError(t, err, "id must be a positive integer")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestValidateHTTPURL(t *testing.T) {
	assert.NoError(t, ValidateHTTPURL("https://cdn.example.com/a.png", "picture"))
	assert.NoError(t, ValidateHTTPURL("http://localhost:8080/a.png", "picture"))

	for _, raw := range []string{"", "not a url", "ftp://example.com/a.png", "/relative/path"} {
		err := ValidateHTTPURL(raw, "picture")
		require.Error(t, err, raw)
		assert.Equal(t, "picture must be a valid http(s) URL", GetValidationFields(err)["picture"])
	}
}
