package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Story is a post with optional thumbnails
type Story struct {
	ID         bson.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Title      string          `json:"title" bson:"title"`
	Slug       string          `json:"slug" bson:"slug"`
	Content    string          `json:"content" bson:"content"`
	Location   string          `json:"location" bson:"location"`
	Thumbnails []Image         `json:"thumbnails" bson:"thumbnails"`
	Likes      int             `json:"likes" bson:"likes"`
	Views      int             `json:"views" bson:"views"`
	Tags       []string        `json:"tags" bson:"tags"`
	Comments   []bson.ObjectID `json:"comments" bson:"comments"`
	Author     bson.ObjectID   `json:"author" bson:"author"`
	CreatedAt  time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// StoryTextFields are the fields of the story text index used by search.
var StoryTextFields = []string{"title", "content", "tags", "location"}

// StoryView is a story with its author joined in
type StoryView struct {
	ID         bson.ObjectID   `json:"_id" bson:"_id"`
	Title      string          `json:"title" bson:"title"`
	Slug       string          `json:"slug" bson:"slug"`
	Content    string          `json:"content" bson:"content"`
	Location   string          `json:"location" bson:"location"`
	Thumbnails []Image         `json:"thumbnails" bson:"thumbnails"`
	Likes      int             `json:"likes" bson:"likes"`
	Views      int             `json:"views" bson:"views"`
	Tags       []string        `json:"tags" bson:"tags"`
	Comments   []bson.ObjectID `json:"comments" bson:"comments"`
	Author     *User           `json:"author" bson:"author"`
	Score      float64         `json:"score,omitempty" bson:"score,omitempty"`
	CreatedAt  time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// TagCount is one row of the trending tags listing
type TagCount struct {
	Tag   string `json:"tag" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}

// CreateStoryRequest represents story creation payload
type CreateStoryRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Location   string   `json:"location"`
	Thumbnails []Image  `json:"thumbnails"`
	Tags       []string `json:"tags"`
}

// NewStory builds a story with zero counters and empty relation lists
func NewStory(req CreateStoryRequest, slug string, author bson.ObjectID) *Story {
	thumbnails := req.Thumbnails
	if thumbnails == nil {
		thumbnails = []Image{}
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	return &Story{
		ID:         bson.NewObjectID(),
		Title:      req.Title,
		Slug:       slug,
		Content:    req.Content,
		Location:   req.Location,
		Thumbnails: thumbnails,
		Tags:       tags,
		Comments:   []bson.ObjectID{},
		Author:     author,
	}
}
