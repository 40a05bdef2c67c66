package properimage

// bayerTaps lists, per CFA site, the neighbour offsets averaged into each of
// the R, G and B channels. An empty list means the site holds that channel.
//
// RGGB layout: (even row, even col) = R, (even, odd) = Gr, (odd, even) = Gb,
// (odd, odd) = B.
var bayerTaps = [2][2][3][][2]int{
	{
		{nil, {{-1, 0}, {1, 0}, {0, -1}, {0, 1}}, {{-1, -1}, {1, -1}, {-1, 1}, {1, 1}}},
		{{{-1, 0}, {1, 0}}, nil, {{0, -1}, {0, 1}}},
	},
	{
		{{{0, -1}, {0, 1}}, nil, {{-1, 0}, {1, 0}}},
		{{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}}, {{-1, 0}, {1, 0}, {0, -1}, {0, 1}}, nil},
	},
}

// DebayerRGGB turns a raw RGGB mosaic into a bilinear luminance frame,
// (R + G + B) / 3 per pixel. Edges are mirrored about the border pixel so
// every tap keeps its CFA color. A pixel is masked when any sample it uses is
// masked.
func DebayerRGGB(px PixelArray) PixelArray {
	out := NewBlankPixelArray(px.Width, px.Height)
	out.Name = px.Name
	if px.Mask != nil {
		out.Mask = make([]bool, len(px.Data))
	}

	mirror := func(v, n int) int {
		if v < 0 {
			return min(-v, n-1)
		}
		if v >= n {
			return max(2*n-2-v, 0)
		}
		return v
	}
	at := func(x, y int) int {
		return mirror(y, px.Height)*px.Width + mirror(x, px.Width)
	}

	for y := 0; y < px.Height; y++ {
		for x := 0; x < px.Width; x++ {
			i := y*px.Width + x
			taps := bayerTaps[y%2][x%2]
			masked := px.Masked(i)
			var lum float64
			for _, channel := range taps {
				if channel == nil {
					lum += px.Data[i]
					continue
				}
				var sum float64
				for _, d := range channel {
					j := at(x+d[0], y+d[1])
					sum += px.Data[j]
					masked = masked || px.Masked(j)
				}
				lum += sum / float64(len(channel))
			}
			out.Data[i] = lum / 3
			if masked {
				out.Mask[i] = true
			}
		}
	}
	return out
}
