// Package classify turns a canonical message into a classification via
// the LLM, then projects the importance distribution into a priority.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

const maxBodyLength = 2000

type Classifier struct {
	llm             out.LLMClient
	defaultCategory string
	log             *logger.Logger
}

func NewClassifier(llm out.LLMClient, defaultCategory string) *Classifier {
	return &Classifier{
		llm:             llm,
		defaultCategory: defaultCategory,
		log:             logger.Default().WithField("component", "classifier"),
	}
}

// Request carries everything the prompt needs for one message.
type Request struct {
	Subject string
	Body    string
	Sender  string
	IsReply bool

	// Category name -> description, from the user's configured categories
	Categories map[string]string
	// The user's free-text self description
	UserDescription string
}

// llmResponse mirrors the JSON shape the prompt demands.
type llmResponse struct {
	Topic      string         `json:"topic"`
	Importance map[string]int `json:"importance"`
	Summary    struct {
		KeyPoints    json.RawMessage `json:"keypoints"`
		BulletPoints []string        `json:"bullet_points"`
		Short        string          `json:"short"`
		OneLine      string          `json:"one_line"`
	} `json:"summary"`
	Answer    string `json:"answer"`
	Relevance string `json:"relevance"`
}

// Classify runs the LLM and normalizes its output. Unparsable output is a
// ClassifierMalformed error, which the pipeline retries.
func (c *Classifier) Classify(ctx context.Context, req *Request) (*domain.Classification, error) {
	raw, err := c.llm.CompleteJSON(ctx, c.systemPrompt(req), c.userPrompt(req))
	if err != nil {
		return nil, apperr.ExternalError("llm", err)
	}

	parsed, err := parseResponse(raw, req.IsReply)
	if err != nil {
		c.log.WithError(err).Warn("classifier output malformed")
		return nil, apperr.ClassifierMalformed(err)
	}

	scores := domain.Scores(parsed.Importance).Clamp()

	topic := parsed.Topic
	if _, known := req.Categories[topic]; !known {
		topic = c.defaultCategory
	}

	result := &domain.Classification{
		Topic:         topic,
		Importance:    scores,
		Priority:      ProjectPriority(scores),
		KeyPoints:     parsed.keyPoints,
		BulletSummary: parsed.Summary.BulletPoints,
		ShortSummary:  parsed.Summary.Short,
		OneLine:       parsed.Summary.OneLine,
		Answer:        parsed.Answer,
		Relevance:     parsed.Relevance,
	}
	return result, nil
}

func (c *Classifier) systemPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You are an email assistant that classifies and summarizes incoming mail.\n")
	b.WriteString("Respond with a single JSON object with fields: topic, importance, summary, answer, relevance.\n")
	b.WriteString("importance distributes scores 0-100 across exactly these keys: ")
	b.WriteString(strings.Join(domain.ImportanceKeys, ", "))
	b.WriteString(".\n")

	if req.IsReply {
		b.WriteString("This message is a reply in a thread: summary.keypoints must be an array of arrays of strings, one inner array per message in the thread, oldest first.\n")
	} else {
		b.WriteString("summary.keypoints must be an array of objects, each with fields category, organization, topic and content.\n")
	}
	b.WriteString("summary.bullet_points is a list of one-line bullets, summary.short a short paragraph, summary.one_line a single sentence.\n")
	b.WriteString("answer is a suggested reply when one makes sense, otherwise an empty string. relevance describes how relevant the mail is to the user.\n")

	if len(req.Categories) > 0 {
		b.WriteString("topic must be one of the user's categories:\n")
		for name, description := range req.Categories {
			fmt.Fprintf(&b, "- %s: %s\n", name, description)
		}
	}
	if req.UserDescription != "" {
		fmt.Fprintf(&b, "About the user: %s\n", req.UserDescription)
	}
	return b.String()
}

func (c *Classifier) userPrompt(req *Request) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", req.Sender, req.Subject, truncateBody(req.Body))
}

type parsedResponse struct {
	llmResponse
	keyPoints []domain.KeyPoint
}

// keyPointItem is the structured keypoint shape requested for fresh
// messages.
type keyPointItem struct {
	Category     string `json:"category"`
	Organization string `json:"organization"`
	Topic        string `json:"topic"`
	Content      string `json:"content"`
}

func parseResponse(raw string, isReply bool) (*parsedResponse, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if resp.Importance == nil {
		return nil, fmt.Errorf("missing importance distribution")
	}

	parsed := &parsedResponse{llmResponse: resp}

	if len(resp.Summary.KeyPoints) > 0 {
		points, err := parseKeyPoints(resp.Summary.KeyPoints, isReply)
		if err != nil {
			return nil, err
		}
		parsed.keyPoints = points
	}
	return parsed, nil
}

// parseKeyPoints accepts the grouped form used for replies and the
// structured object form used otherwise. Bare string lists are tolerated
// as content-only points, and a grouped answer to a non-reply prompt is
// flattened rather than rejected.
func parseKeyPoints(raw json.RawMessage, isReply bool) ([]domain.KeyPoint, error) {
	var grouped [][]string
	if err := json.Unmarshal(raw, &grouped); err == nil {
		var points []domain.KeyPoint
		for position, group := range grouped {
			for _, content := range group {
				point := domain.KeyPoint{Content: content}
				if isReply {
					point.Position = position
				}
				points = append(points, point)
			}
		}
		return points, nil
	}

	var items []keyPointItem
	if err := json.Unmarshal(raw, &items); err == nil {
		points := make([]domain.KeyPoint, 0, len(items))
		for _, item := range items {
			points = append(points, domain.KeyPoint{
				Category:     item.Category,
				Organization: item.Organization,
				Topic:        item.Topic,
				Content:      item.Content,
			})
		}
		return points, nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		points := make([]domain.KeyPoint, 0, len(flat))
		for _, content := range flat {
			points = append(points, domain.KeyPoint{Content: content})
		}
		return points, nil
	}

	return nil, fmt.Errorf("keypoints has unexpected shape")
}

func truncateBody(body string) string {
	if len(body) <= maxBodyLength {
		return body
	}
	return body[:maxBodyLength] + "..."
}
