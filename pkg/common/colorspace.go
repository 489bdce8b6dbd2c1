package common

// RGBToYUV converts an 8-bit RGB triplet to limited range BT.601 YCbCr using
// fixed integer coefficients.
func RGBToYUV(r, g, b uint8) (y, u, v uint8) {
	ri, gi, bi := int(r), int(g), int(b)
	y = uint8(((66*ri + 129*gi + 25*bi + 128) >> 8) + 16)
	u = uint8(((-38*ri - 74*gi + 112*bi + 128) >> 8) + 128)
	v = uint8(((112*ri - 94*gi - 18*bi + 128) >> 8) + 128)
	return y, u, v
}
