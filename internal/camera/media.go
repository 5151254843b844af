package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// MediaFile is one file on the SD card. Timestamps are Unix seconds as
// reported by the camera, passed through unmodified.
type MediaFile struct {
	Name      string      `json:"n"`
	CreatedAt json.Number `json:"cre"`
	UpdatedAt json.Number `json:"mod"`
	Size      json.Number `json:"s"`
}

// MediaDirectory is one DCIM directory and its files.
type MediaDirectory struct {
	Directory string      `json:"d"`
	Files     []MediaFile `json:"fs"`
}

// MediaList is the camera's full media listing.
type MediaList struct {
	ID    string           `json:"id"`
	Media []MediaDirectory `json:"media"`
}

// MediaPath names a single file on the camera.
type MediaPath struct {
	Folder string `json:"folder"`
	File   string `json:"file"`
}

// MediaList fetches the full media listing.
func (c *Camera) MediaList(ctx context.Context) (*MediaList, error) {
	var list MediaList
	if err := c.getJSON(ctx, "/gopro/media/list", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// LastCapturedMedia returns the most recently captured file.
func (c *Camera) LastCapturedMedia(ctx context.Context) (*MediaPath, error) {
	var p MediaPath
	if err := c.getJSON(ctx, "/gopro/media/last_captured", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MediaInfo fetches a file's metadata. The shape varies between photo and
// video files, so it is left undecoded.
func (c *Camera) MediaInfo(ctx context.Context, p MediaPath) (json.RawMessage, error) {
	var raw json.RawMessage
	path := "/gopro/media/info?path=" + url.QueryEscape(p.Folder+"/"+p.File)
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DownloadMedia streams a file from the camera into dest. progress, if
// non-nil, receives running byte counts.
func (c *Camera) DownloadMedia(ctx context.Context, p MediaPath, dest string, progress func(written, total int64)) error {
	sess, err := c.onlineSession()
	if err != nil {
		return err
	}
	return sess.Download(ctx, fmt.Sprintf("/videos/DCIM/%s/%s", p.Folder, p.File), dest, progress)
}

// DeleteMedia removes one file from the SD card.
func (c *Camera) DeleteMedia(ctx context.Context, p MediaPath) error {
	return c.getOK(ctx, "/gopro/media/delete/file?path="+url.QueryEscape(p.Folder+"/"+p.File))
}

// DeleteAllMedia wipes the SD card's media.
func (c *Camera) DeleteAllMedia(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/media/delete/all")
}

// SetTurboTransfer toggles turbo transfer mode, which prioritizes media
// throughput over camera responsiveness during bulk downloads.
func (c *Camera) SetTurboTransfer(ctx context.Context, on bool) error {
	p := 0
	if on {
		p = 1
	}
	return c.getOK(ctx, fmt.Sprintf("/gopro/media/turbo_transfer?p=%d", p))
}
