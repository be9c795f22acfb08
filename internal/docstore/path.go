package docstore

import (
	"errors"
	"strings"
)

// Join builds a path from segments.
//
//	Join("chats", id, "messages") // "chats/<id>/messages"
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitDocPath returns the collection and id of a document path.
func splitDocPath(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 0 {
		return "", "", errors.New("document path must have an even number of segments")
	}
	for _, s := range segs {
		if s == "" {
			return "", "", errors.New("empty path segment")
		}
	}
	i := strings.LastIndexByte(path, '/')
	return path[:i], path[i+1:], nil
}

func validCollection(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 {
		return errors.New("collection path must have an odd number of segments")
	}
	for _, s := range segs {
		if s == "" {
			return errors.New("empty path segment")
		}
	}
	return nil
}

// splitFieldPath splits a dotted field path such as "lastMessage.text".
func splitFieldPath(field string) ([]string, error) {
	parts := strings.Split(field, ".")
	for _, p := range parts {
		if p == "" {
			return nil, errors.New("empty field path segment in " + field)
		}
	}
	return parts, nil
}
