package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	// Decoders for formats found in uploads and embedded in PDF and DOCX files.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/dsoprea/go-exif/v3"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const maxUpscale = 4

// prepareImage decodes an image, applies its EXIF orientation, scales small scans up and encodes the
// result as PNG.
func prepareImage(data []byte, minWidth int) ([]byte, error) {
	var img image.Image
	var format string
	err := safely("decode image", func() error {
		var err error
		img, format, err = image.Decode(bytes.NewReader(data))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if format == "jpeg" {
		img = orient(img, exifOrientation(data))
	}

	return encodePNG(upscale(img, minWidth))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// upscale enlarges images narrower than minWidth by an integer factor of at most maxUpscale.
func upscale(img image.Image, minWidth int) image.Image {
	b := img.Bounds()
	if minWidth <= 0 || b.Dx() <= 0 || b.Dx() >= minWidth {
		return img
	}

	factor := (minWidth + b.Dx() - 1) / b.Dx()
	factor = min(factor, maxUpscale)
	if factor < 2 {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// exifOrientation returns the EXIF orientation tag of a JPEG, 1 when absent.
func exifOrientation(data []byte) int {
	orientation := 1
	_ = safely("read exif", func() error {
		raw, err := exif.SearchAndExtractExif(data)
		if err != nil || raw == nil {
			return err
		}

		entries, _, err := exif.GetFlatExifData(raw, nil)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry.TagName != "Orientation" {
				continue
			}
			switch v := entry.Value.(type) {
			case []uint16:
				if len(v) > 0 {
					orientation = int(v[0])
				}
			default:
				if parsed, err := strconv.Atoi(strings.Trim(entry.Formatted, "[] ")); err == nil {
					orientation = parsed
				}
			}
			break
		}
		return nil
	})

	if orientation < 1 || orientation > 8 {
		return 1
	}
	return orientation
}

// orient rotates and mirrors img so it is displayed upright for the given EXIF orientation.
func orient(img image.Image, orientation int) image.Image {
	if orientation <= 1 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	swap := orientation >= 5

	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := range h {
		for x := range w {
			var dx, dy int
			switch orientation {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
