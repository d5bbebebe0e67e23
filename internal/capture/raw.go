package capture

import (
	"fmt"
	"image"
	"image/color"
)

// packRaw converts an RGBA image into the byte layout of a raw pixel format
func packRaw(img *image.RGBA, format PixelFormat) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch format {
	case FormatRGB888:
		out := make([]byte, 0, w*h*3)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				out = append(out, row[x], row[x+1], row[x+2])
			}
		}
		return out, nil

	case FormatRGB565:
		out := make([]byte, 0, w*h*2)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				v := uint16(row[x]>>3)<<11 | uint16(row[x+1]>>2)<<5 | uint16(row[x+2]>>3)
				out = append(out, byte(v>>8), byte(v))
			}
		}
		return out, nil

	case FormatGrayscale:
		out := make([]byte, 0, w*h)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				out = append(out, color.GrayModel.Convert(color.RGBA{row[x], row[x+1], row[x+2], 255}).(color.Gray).Y)
			}
		}
		return out, nil

	case FormatYUV422:
		if w%2 != 0 {
			return nil, fmt.Errorf("yuv422 needs an even width, got %d", w)
		}
		out := make([]byte, 0, w*h*2)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 8 {
				y0, cb0, cr0 := color.RGBToYCbCr(row[x], row[x+1], row[x+2])
				y1, cb1, cr1 := color.RGBToYCbCr(row[x+4], row[x+5], row[x+6])
				cb := byte((int(cb0) + int(cb1)) / 2)
				cr := byte((int(cr0) + int(cr1)) / 2)
				out = append(out, y0, cb, y1, cr)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// rawImage wraps a raw frame's bytes as an image.Image for the JPEG encoder
func rawImage(f *Frame) (image.Image, error) {
	if !f.Format.IsRaw() {
		return nil, fmt.Errorf("%w: frame is already %s", ErrUnsupportedFormat, f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}

	w, h := f.Width, f.Height
	want := w * h * f.Format.BytesPerPixel()
	if len(f.Data) < want {
		return nil, fmt.Errorf("short %s frame: have %d bytes, want %d", f.Format, len(f.Data), want)
	}
	rect := image.Rect(0, 0, w, h)

	switch f.Format {
	case FormatRGB888:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
			img.Pix[j] = f.Data[i]
			img.Pix[j+1] = f.Data[i+1]
			img.Pix[j+2] = f.Data[i+2]
			img.Pix[j+3] = 255
		}
		return img, nil

	case FormatRGB565:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < w*h*2; i, j = i+2, j+4 {
			v := uint16(f.Data[i])<<8 | uint16(f.Data[i+1])
			r := byte(v>>11) & 0x1f
			g := byte(v>>5) & 0x3f
			b := byte(v) & 0x1f
			img.Pix[j] = r<<3 | r>>2
			img.Pix[j+1] = g<<2 | g>>4
			img.Pix[j+2] = b<<3 | b>>2
			img.Pix[j+3] = 255
		}
		return img, nil

	case FormatGrayscale:
		return &image.Gray{Pix: f.Data[:w*h], Stride: w, Rect: rect}, nil

	case FormatYUV422:
		if w%2 != 0 {
			return nil, fmt.Errorf("yuv422 needs an even width, got %d", w)
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < h; y++ {
			row := f.Data[y*w*2 : (y+1)*w*2]
			for x := 0; x < w/2; x++ {
				img.Y[y*img.YStride+2*x] = row[4*x]
				img.Cb[y*img.CStride+x] = row[4*x+1]
				img.Y[y*img.YStride+2*x+1] = row[4*x+2]
				img.Cr[y*img.CStride+x] = row[4*x+3]
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
}
