// Package torrentfile turns .torrent metainfo into a magnet reference the
// daemon can accept.
package torrentfile

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/bencode"
)

// MaxSize bounds decoded metainfo.
const MaxSize = 10 * 1024 * 1024

// InvalidContentError is returned for metainfo that cannot be converted.
type InvalidContentError struct {
	Reason string
	Err    error
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid torrent: %s", e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

type metaInfo struct {
	Info bencode.RawMessage `bencode:"info"`
}

type infoDict struct {
	Name string `bencode:"name"`
}

// MagnetFromBase64 decodes base64 metainfo and returns its magnet reference.
func MagnetFromBase64(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", &InvalidContentError{Reason: fmt.Sprintf("invalid base64 encoding: %v", err), Err: err}
	}

	return Magnet(data)
}

// Magnet returns magnet:?xt=urn:btih:<infohash>&dn=<name> for raw metainfo.
func Magnet(data []byte) (string, error) {
	if len(data) > MaxSize {
		return "", &InvalidContentError{Reason: fmt.Sprintf("size %d bytes exceeds maximum %d bytes", len(data), MaxSize)}
	}

	if err := validateStructure(data); err != nil {
		return "", err
	}

	var mi metaInfo
	if err := bencode.DecodeBytes(data, &mi); err != nil {
		return "", &InvalidContentError{Reason: fmt.Sprintf("invalid bencode structure: %v", err), Err: err}
	}

	var info infoDict
	if err := bencode.DecodeBytes(mi.Info, &info); err != nil {
		return "", &InvalidContentError{Reason: fmt.Sprintf("invalid info dictionary: %v", err), Err: err}
	}

	sum := sha1.Sum(mi.Info)

	q := url.Values{}
	if info.Name != "" {
		q.Set("dn", info.Name)
	}

	magnet := "magnet:?xt=urn:btih:" + hex.EncodeToString(sum[:])
	if len(q) > 0 {
		magnet += "&" + q.Encode()
	}

	return magnet, nil
}

func validateStructure(data []byte) error {
	var torrentData interface{}

	if err := bencode.DecodeBytes(data, &torrentData); err != nil {
		return &InvalidContentError{Reason: fmt.Sprintf("invalid bencode structure: %v", err), Err: err}
	}

	dict, ok := torrentData.(map[string]interface{})
	if !ok {
		return &InvalidContentError{Reason: "bencode root must be a dictionary"}
	}

	info, hasInfo := dict["info"]
	if !hasInfo {
		return &InvalidContentError{Reason: "bencode missing required 'info' dictionary"}
	}

	if _, ok := info.(map[string]interface{}); !ok {
		return &InvalidContentError{Reason: "'info' must be a dictionary"}
	}

	return nil
}
