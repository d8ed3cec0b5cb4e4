package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ingest_server/core/domain"
	"ingest_server/pkg/apperr"
)

type fakeLLM struct {
	response string
	err      error

	gotSystem string
	gotUser   string
}

func (f *fakeLLM) CompleteJSON(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.gotSystem = systemPrompt
	f.gotUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const validResponse = `{
	"topic": "Work",
	"importance": {"UrgentWorkInformation": 70, "RoutineWorkUpdates": 20, "InternalCommunications": 5, "Promotional": 5, "News": 0},
	"summary": {
		"keypoints": ["deadline moved to Friday", "review requested"],
		"bullet_points": ["Deadline moved", "Review the draft"],
		"short": "The deadline moved and a review is requested.",
		"one_line": "Deadline moved to Friday."
	},
	"answer": "Thanks, I will review it today.",
	"relevance": "highly relevant"
}`

func testRequest(isReply bool) *Request {
	return &Request{
		Subject: "Deadline update",
		Body:    "The deadline moved to Friday.",
		Sender:  "boss@corp.com",
		IsReply: isReply,
		Categories: map[string]string{
			"Work":     "Anything from the office",
			"Personal": "Friends and family",
		},
		UserDescription: "Backend engineer at Corp",
	}
}

func TestClassifyValidResponse(t *testing.T) {
	llm := &fakeLLM{response: validResponse}
	c := NewClassifier(llm, "Others")

	got, err := c.Classify(context.Background(), testRequest(false))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if got.Topic != "Work" {
		t.Errorf("Topic = %q, want Work", got.Topic)
	}
	if got.Priority != domain.PriorityImportant {
		t.Errorf("Priority = %q, want important", got.Priority)
	}
	if got.Importance[domain.ImportanceUrgentWork] != 70 {
		t.Errorf("urgent score = %d, want 70", got.Importance[domain.ImportanceUrgentWork])
	}
	if len(got.KeyPoints) != 2 || got.KeyPoints[0].Content != "deadline moved to Friday" {
		t.Errorf("KeyPoints = %v, want two content-only points", got.KeyPoints)
	}
	if got.Answer == "" || got.ShortSummary == "" || got.OneLine == "" {
		t.Error("summary fields missing")
	}
}

func TestClassifyFencedResponse(t *testing.T) {
	llm := &fakeLLM{response: "```json\n" + validResponse + "\n```"}
	c := NewClassifier(llm, "Others")

	got, err := c.Classify(context.Background(), testRequest(false))
	if err != nil {
		t.Fatalf("Classify with fences: %v", err)
	}
	if got.Topic != "Work" {
		t.Errorf("Topic = %q, want Work", got.Topic)
	}
}

func TestClassifyUnknownTopicFallsBack(t *testing.T) {
	llm := &fakeLLM{response: strings.Replace(validResponse, `"topic": "Work"`, `"topic": "Invented"`, 1)}
	c := NewClassifier(llm, "Others")

	got, err := c.Classify(context.Background(), testRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if got.Topic != "Others" {
		t.Errorf("Topic = %q, want default Others", got.Topic)
	}
}

func TestClassifyReplyGroupsKeyPoints(t *testing.T) {
	response := `{
		"topic": "Work",
		"importance": {"RoutineWorkUpdates": 60},
		"summary": {
			"keypoints": [["original ask"], ["agreed", "added a caveat"]],
			"bullet_points": ["Agreement reached"],
			"short": "s", "one_line": "o"
		},
		"answer": "", "relevance": "relevant"
	}`
	llm := &fakeLLM{response: response}
	c := NewClassifier(llm, "Others")

	got, err := c.Classify(context.Background(), testRequest(true))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.KeyPoints) != 3 {
		t.Fatalf("KeyPoints = %d, want 3", len(got.KeyPoints))
	}
	wantPositions := []int{0, 1, 1}
	for i, want := range wantPositions {
		if got.KeyPoints[i].Position != want {
			t.Errorf("KeyPoints[%d].Position = %d, want %d", i, got.KeyPoints[i].Position, want)
		}
	}
	if got.Priority != domain.PriorityInformation {
		t.Errorf("Priority = %q, want information", got.Priority)
	}
}

func TestClassifyStructuredKeyPoints(t *testing.T) {
	response := `{
		"topic": "Work",
		"importance": {"RoutineWorkUpdates": 50},
		"summary": {
			"keypoints": [
				{"category": "deadline", "organization": "Corp", "topic": "Q3 report", "content": "draft due Friday"},
				{"category": "request", "organization": "Corp", "topic": "Q3 report", "content": "review requested"}
			],
			"bullet_points": ["Draft due"],
			"short": "s", "one_line": "o"
		},
		"answer": "", "relevance": "relevant"
	}`
	llm := &fakeLLM{response: response}
	c := NewClassifier(llm, "Others")

	got, err := c.Classify(context.Background(), testRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.KeyPoints) != 2 {
		t.Fatalf("KeyPoints = %d, want 2", len(got.KeyPoints))
	}
	first := got.KeyPoints[0]
	if first.Category != "deadline" || first.Organization != "Corp" || first.Topic != "Q3 report" || first.Content != "draft due Friday" {
		t.Errorf("first point = %+v, want structured fields preserved", first)
	}
	if !strings.Contains(llm.gotSystem, "category, organization, topic and content") {
		t.Error("prompt should request structured keypoints for fresh messages")
	}
}

func TestClassifyMalformed(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "I could not classify this email, sorry!"},
		{"missing importance", `{"topic": "Work", "summary": {}}`},
		{"keypoints wrong shape", `{"topic": "Work", "importance": {"News": 1}, "summary": {"keypoints": 42}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeLLM{response: tt.response}, "Others")
			_, err := c.Classify(context.Background(), testRequest(false))
			if !apperr.HasCode(err, apperr.CodeClassifierMalformed) {
				t.Errorf("got %v, want CLASSIFIER_MALFORMED", err)
			}
			if !apperr.IsRetryable(err) {
				t.Error("malformed classifier output should be retryable")
			}
		})
	}
}

func TestClassifyLLMFailure(t *testing.T) {
	c := NewClassifier(&fakeLLM{err: errors.New("connection reset")}, "Others")
	_, err := c.Classify(context.Background(), testRequest(false))
	if !apperr.HasCode(err, apperr.CodeExternalError) {
		t.Errorf("got %v, want EXTERNAL_ERROR", err)
	}
}

func TestClassifyPromptContents(t *testing.T) {
	llm := &fakeLLM{response: validResponse}
	c := NewClassifier(llm, "Others")

	req := testRequest(true)
	req.Body = strings.Repeat("b", 5000)
	if _, err := c.Classify(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(llm.gotSystem, "Work: Anything from the office") {
		t.Error("system prompt missing category descriptions")
	}
	if !strings.Contains(llm.gotSystem, "Backend engineer at Corp") {
		t.Error("system prompt missing user description")
	}
	if !strings.Contains(llm.gotSystem, "array of arrays") {
		t.Error("reply prompt should request grouped keypoints")
	}
	if len(llm.gotUser) > maxBodyLength+200 {
		t.Errorf("body not truncated: %d bytes", len(llm.gotUser))
	}
}
