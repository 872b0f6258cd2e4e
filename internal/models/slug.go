package models

import "github.com/gosimple/slug"

// Slugify turns a title into a lowercase, dash separated ASCII slug.
func Slugify(title string) string {
	if s := slug.Make(title); s != "" {
		return s
	}
	return "story"
}
