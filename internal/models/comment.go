package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Comment belongs to one story and one author
type Comment struct {
	ID         bson.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Content    string          `json:"content" bson:"content"`
	Likes      int             `json:"likes" bson:"likes"`
	Dislikes   int             `json:"dislikes" bson:"dislikes"`
	LikedBy    []bson.ObjectID `json:"likedBy" bson:"likedBy"`
	DislikedBy []bson.ObjectID `json:"dislikedBy" bson:"dislikedBy"`
	Author     bson.ObjectID   `json:"author" bson:"author"`
	Story      bson.ObjectID   `json:"story" bson:"story"`
	Replies    []bson.ObjectID `json:"replies" bson:"replies"`
	CreatedAt  time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// CommentView is a comment with its author joined in
type CommentView struct {
	ID         bson.ObjectID   `json:"_id" bson:"_id"`
	Content    string          `json:"content" bson:"content"`
	Likes      int             `json:"likes" bson:"likes"`
	Dislikes   int             `json:"dislikes" bson:"dislikes"`
	LikedBy    []bson.ObjectID `json:"likedBy" bson:"likedBy"`
	DislikedBy []bson.ObjectID `json:"dislikedBy" bson:"dislikedBy"`
	Author     *User           `json:"author" bson:"author"`
	Story      bson.ObjectID   `json:"story" bson:"story"`
	CreatedAt  time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// CommentRequest represents comment create/edit payload
type CommentRequest struct {
	Content string `json:"content"`
}

// NewComment builds a comment with no reactions
func NewComment(content string, author, story bson.ObjectID) *Comment {
	return &Comment{
		Content:    content,
		LikedBy:    []bson.ObjectID{},
		DislikedBy: []bson.ObjectID{},
		Author:     author,
		Story:      story,
		Replies:    []bson.ObjectID{},
	}
}
