package validation

import (
	"strings"
	"testing"

	"github.com/hyperengineering/distill/internal/types"
)

// --- Field validator Tests ---

func TestValidateUTF8(t *testing.T) {
	for _, v := range []string{"hello world", "", "Hello, 世界", "Hello 👋🏻"} {
		if err := ValidateUTF8("field", v); err != nil {
			t.Errorf("ValidateUTF8(%q) = %v, want nil", v, err)
		}
	}

	err := ValidateUTF8("content", string([]byte{0xff, 0xfe}))
	if err == nil {
		t.Fatal("ValidateUTF8(invalid) = nil, want error")
	}
	if err.Field != "content" {
		t.Errorf("error.Field = %q, want %q", err.Field, "content")
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("field", "hello world"); err != nil {
		t.Errorf("ValidateNoNullBytes(clean) = %v, want nil", err)
	}
	if err := ValidateNoNullBytes("content", "hello\x00world"); err == nil {
		t.Error("ValidateNoNullBytes(with null) = nil, want error")
	}
}

func TestValidateMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"within", strings.Repeat("a", 100), false},
		{"at limit", strings.Repeat("a", 128), false},
		{"exceeds", strings.Repeat("a", 129), true},
		{"multibyte at limit", strings.Repeat("👋", 128), false},
		{"multibyte exceeds", strings.Repeat("👋", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxLength("knowledgeBaseId", tt.value, 128)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxLength() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("field", "value"); err != nil {
		t.Errorf("ValidateRequired(value) = %v, want nil", err)
	}
	for _, value := range []string{"", " ", "\t", "\n", "  \t\n  "} {
		err := ValidateRequired("knowledgeBaseId", value)
		if err == nil {
			t.Errorf("ValidateRequired(%q) = nil, want error", value)
			continue
		}
		if err.Field != "knowledgeBaseId" {
			t.Errorf("error.Field = %q, want %q", err.Field, "knowledgeBaseId")
		}
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"file", "text"}
	for _, v := range allowed {
		if err := ValidateEnum("sourceType", v, allowed); err != nil {
			t.Errorf("ValidateEnum(%q) = %v, want nil", v, err)
		}
	}

	err := ValidateEnum("sourceType", "url", allowed)
	if err == nil {
		t.Fatal("ValidateEnum(invalid) = nil, want error")
	}
	if err.Message != "must be one of: file, text" {
		t.Errorf("error.Message = %q", err.Message)
	}

	if err := ValidateEnum("sourceType", "FILE", allowed); err == nil {
		t.Error("ValidateEnum(uppercase) = nil, want error (case sensitive)")
	}
}

// --- Collector Tests ---

func TestCollector_IgnoresNil(t *testing.T) {
	c := &Collector{}
	c.Add(nil)
	c.Add(&ValidationError{Field: "field", Message: "error"})
	c.Add(nil)

	if len(c.Errors()) != 1 {
		t.Errorf("len(Errors()) = %d, want 1 (nil should be ignored)", len(c.Errors()))
	}
	if !c.HasErrors() {
		t.Error("HasErrors() = false, want true")
	}
}

func TestCollector_Empty(t *testing.T) {
	c := &Collector{}
	if c.HasErrors() {
		t.Error("HasErrors() = true, want false for empty collector")
	}
}

// --- ValidateIngestRequest Tests ---

func fields(errs []ValidationError) map[string]string {
	m := make(map[string]string, len(errs))
	for _, e := range errs {
		m[e.Field] = e.Message
	}
	return m
}

func TestValidateIngestRequest_ValidText(t *testing.T) {
	req := types.IngestRequest{
		KnowledgeBaseID:    "kb-1",
		SourceType:         "text",
		SourceName:         "Meeting notes",
		Content:            "The launch moved to March.",
		EmbeddingsProvider: "local",
	}
	if errs := ValidateIngestRequest(req, false); len(errs) != 0 {
		t.Errorf("ValidateIngestRequest() = %v, want no errors", errs)
	}
}

func TestValidateIngestRequest_ValidFile(t *testing.T) {
	req := types.IngestRequest{KnowledgeBaseID: "kb-1", SourceType: "file"}
	if errs := ValidateIngestRequest(req, true); len(errs) != 0 {
		t.Errorf("ValidateIngestRequest() = %v, want no errors", errs)
	}
}

func TestValidateIngestRequest_MissingFields(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{}, false))

	for _, f := range []string{"knowledgeBaseId", "sourceType"} {
		if errs[f] != "is required" {
			t.Errorf("errors[%q] = %q, want %q", f, errs[f], "is required")
		}
	}
}

func TestValidateIngestRequest_TextNeedsNameAndContent(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "text",
	}, false))

	if _, ok := errs["sourceName"]; !ok {
		t.Error("expected sourceName error")
	}
	if _, ok := errs["content"]; !ok {
		t.Error("expected content error")
	}
}

func TestValidateIngestRequest_FileRequiresUpload(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "file",
		Content:         "also text",
	}, false))

	if errs["file"] != "is required when sourceType is file" {
		t.Errorf("errors[file] = %q", errs["file"])
	}
	if errs["content"] != "must not be sent with a file upload" {
		t.Errorf("errors[content] = %q", errs["content"])
	}
}

func TestValidateIngestRequest_TextRejectsFile(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "text",
		SourceName:      "n",
		Content:         "c",
	}, true))

	if _, ok := errs["file"]; !ok {
		t.Error("expected file error")
	}
}

func TestValidateIngestRequest_InvalidEnums(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{
		KnowledgeBaseID:    "kb-1",
		SourceType:         "url",
		EmbeddingsProvider: "cohere",
	}, false))

	if errs["sourceType"] != "must be one of: file, text" {
		t.Errorf("errors[sourceType] = %q", errs["sourceType"])
	}
	if errs["embeddingsProvider"] != "must be one of: openai, local" {
		t.Errorf("errors[embeddingsProvider] = %q", errs["embeddingsProvider"])
	}
}

func TestValidateIngestRequest_LimitsAndNullBytes(t *testing.T) {
	errs := fields(ValidateIngestRequest(types.IngestRequest{
		KnowledgeBaseID: strings.Repeat("k", MaxKnowledgeBaseIDLength+1),
		SourceType:      "text",
		SourceName:      "notes",
		Content:         "bad\x00content",
		RequestID:       strings.Repeat("r", MaxRequestIDLength+1),
	}, false))

	for _, f := range []string{"knowledgeBaseId", "content", "requestId"} {
		if _, ok := errs[f]; !ok {
			t.Errorf("expected %s error, got %v", f, errs)
		}
	}
}
