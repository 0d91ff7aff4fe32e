package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type UploadDocumentRequest struct {
	Title   string `json:"title" validate:"required,min=2,max=200"`
	Source  string `json:"source" validate:"omitempty,max=64"`
	Content string `json:"content" validate:"required,min=20"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"required,min=2,max=1000"`
	TopK  int    `json:"topK" validate:"omitempty,min=1,max=20"`
}

type AskRequest struct {
	Question string `json:"question" validate:"required,min=3,max=1000"`
	TopK     int    `json:"topK" validate:"omitempty,min=1,max=20"`
}

// Response DTOs

type DocumentResponse struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type SearchHit struct {
	DocumentID    uuid.UUID `json:"documentId"`
	DocumentTitle string    `json:"documentTitle"`
	Seq           int       `json:"seq"`
	Content       string    `json:"content"`
	Distance      float64   `json:"distance"`
}

type SearchResponse struct {
	Items []SearchHit `json:"items"`
}

type AskResponse struct {
	Answer  string      `json:"answer"`
	Sources []SearchHit `json:"sources"`
}
