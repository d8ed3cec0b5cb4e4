package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ingest_server/core/port/out"
)

const (
	collectionBodies = "email_bodies"

	// Only compress bodies larger than this
	compressionThreshold = 1024 // 1KB
)

// BodyArchiveAdapter implements out.BodyArchive using MongoDB. Raw bodies
// stay out of the relational store; only summaries live there.
type BodyArchiveAdapter struct {
	collection *mongo.Collection
	ttl        time.Duration
}

var _ out.BodyArchive = (*BodyArchiveAdapter)(nil)

func NewBodyArchiveAdapter(db *mongo.Database, ttl time.Duration) *BodyArchiveAdapter {
	return &BodyArchiveAdapter{
		collection: db.Collection(collectionBodies),
		ttl:        ttl,
	}
}

// EnsureIndexes creates the unique email_id index and the TTL index.
func (a *BodyArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type bodyDocument struct {
	EmailID int64 `bson:"email_id"`

	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	ArchivedAt time.Time `bson:"archived_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

// Save upserts the raw bodies for an email.
func (a *BodyArchiveAdapter) Save(ctx context.Context, emailID int64, textBody, htmlBody string) error {
	textBytes := []byte(textBody)
	htmlBytes := []byte(htmlBody)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	isCompressed := false
	if originalSize > compressionThreshold {
		var err error
		if textBytes, err = compress(textBytes); err != nil {
			return fmt.Errorf("failed to compress text body: %w", err)
		}
		if htmlBytes, err = compress(htmlBytes); err != nil {
			return fmt.Errorf("failed to compress html body: %w", err)
		}
		isCompressed = true
	}

	now := time.Now()
	doc := bodyDocument{
		EmailID:      emailID,
		Text:         textBytes,
		HTML:         htmlBytes,
		IsCompressed: isCompressed,
		OriginalSize: originalSize,
		ArchivedAt:   now,
		ExpiresAt:    now.Add(a.ttl),
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"email_id": emailID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save email body: %w", err)
	}
	return nil
}

// Get returns the archived bodies for an email, or empty strings when the
// archive has nothing.
func (a *BodyArchiveAdapter) Get(ctx context.Context, emailID int64) (textBody, htmlBody string, err error) {
	var doc bodyDocument
	err = a.collection.FindOne(ctx, bson.M{"email_id": emailID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to get email body: %w", err)
	}

	textBytes, htmlBytes := doc.Text, doc.HTML
	if doc.IsCompressed {
		if textBytes, err = decompress(doc.Text); err != nil {
			return "", "", fmt.Errorf("failed to decompress text body: %w", err)
		}
		if htmlBytes, err = decompress(doc.HTML); err != nil {
			return "", "", fmt.Errorf("failed to decompress html body: %w", err)
		}
	}
	return string(textBytes), string(htmlBytes), nil
}

// Delete removes the archived bodies for an email.
func (a *BodyArchiveAdapter) Delete(ctx context.Context, emailID int64) error {
	if _, err := a.collection.DeleteOne(ctx, bson.M{"email_id": emailID}); err != nil {
		return fmt.Errorf("failed to delete email body: %w", err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
