package telegram

import (
	"bytes"
	"image/jpeg"

	"github.com/corona10/goimagehash"
	"github.com/gotd/td/tg"
)

// hashPhoto computes the perceptual hash of a photo from its inline cached
// thumbnail. Returns "" when no decodable thumbnail is present; the image
// filter treats an empty hash as unmatchable.
func hashPhoto(photo *tg.Photo) string {
	for _, size := range photo.Sizes {
		cached, ok := size.(*tg.PhotoCachedSize)
		if !ok || len(cached.Bytes) == 0 {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(cached.Bytes))
		if err != nil {
			continue
		}
		hash, err := goimagehash.PerceptionHash(img)
		if err != nil {
			continue
		}
		return hash.ToString()
	}
	return ""
}

// HashImageBytes computes the perceptual hash of raw JPEG bytes. The control
// plane uses it to register blocked images from user uploads so rule hashes
// and event hashes come from the same pipeline.
func HashImageBytes(data []byte) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", err
	}
	return hash.ToString(), nil
}
