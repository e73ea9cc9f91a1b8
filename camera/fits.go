package camera

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

const bzero16 = 32768

// ErrUnsupportedFits is returned when a FITS file is not a 2D 16-bit image
var ErrUnsupportedFits = errors.New("only 2D 16-bit FITS images are supported")

// WriteFits streams a fits file to w.  More than one image produces a cube;
// all images must share the bounds of the first.
func WriteFits(w io.Writer, metadata []fitsio.Card, imgs ...*image.Gray16) error {
	if len(imgs) == 0 {
		return errors.New("no images to write")
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: bzero16}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	nframes := len(imgs)
	b := imgs[0].Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, width*height*nframes)
	offset := 0
	for _, img := range imgs {
		if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
			return fmt.Errorf("image bounds %v differ from first image %v", img.Bounds(), b)
		}
		ib := img.Bounds()
		for y := ib.Min.Y; y < ib.Max.Y; y++ {
			for x := ib.Min.X; x < ib.Max.X; x++ {
				ints[offset] = int16(int32(img.Gray16At(x, y).Y) - bzero16)
				offset++
			}
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFits decodes the primary HDU of a FITS stream into a 16-bit image and
// its header cards.  BZERO is honored.
func ReadFits(r io.Reader) (*image.Gray16, []fitsio.Card, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, nil, ErrUnsupportedFits
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	if hdr.Bitpix() != 16 || len(axes) != 2 {
		return nil, nil, ErrUnsupportedFits
	}
	width, height := axes[0], axes[1]
	ints := make([]int16, width*height)
	if err := hdu.Read(&ints); err != nil {
		return nil, nil, err
	}
	var zero int64
	if c := hdr.Get("BZERO"); c != nil {
		zero = cardInt(c.Value)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for i, v := range ints {
		u := uint16(int64(v) + zero)
		img.Pix[2*i] = byte(u >> 8)
		img.Pix[2*i+1] = byte(u)
	}
	keys := hdr.Keys()
	cards := make([]fitsio.Card, 0, len(keys))
	for i := range keys {
		cards = append(cards, *hdr.Card(i))
	}
	return img, cards, nil
}

func cardInt(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	}
	return 0
}

// FrameCards returns the header cards describing a frame
func FrameCards(f *Frame) []fitsio.Card {
	return []fitsio.Card{
		{Name: "EXPTIME", Value: f.Exposure.Seconds(), Comment: "exposure time, seconds"},
		{Name: "DATE-OBS", Value: f.Captured.UTC().Format(time.RFC3339Nano), Comment: "capture time"},
		{Name: "FRAMENUM", Value: int(f.Seq), Comment: "acquisition sequence number"},
	}
}
