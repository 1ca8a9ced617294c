package store

import "fmt"

const (
	KeyPrefixStream = "stream:"

	FieldCameraID = "currentCameraId"
	FieldMicID    = "currentMicId"
)

func StreamKey(slug string) string {
	return fmt.Sprintf("%s%s", KeyPrefixStream, slug)
}
