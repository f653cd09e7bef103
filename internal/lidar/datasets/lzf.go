package datasets

import "fmt"

// lzfDecompress expands LZF-compressed data into exactly outLen bytes, as
// written by PCL for DATA binary_compressed.
func lzfDecompress(in []byte, outLen int) ([]byte, error) {
	out := make([]byte, 0, outLen)
	ip := 0
	for ip < len(in) {
		ctrl := int(in[ip])
		ip++

		if ctrl < 1<<5 {
			// Literal run of ctrl+1 bytes.
			n := ctrl + 1
			if ip+n > len(in) {
				return nil, fmt.Errorf("lzf: literal run overruns input")
			}
			if len(out)+n > outLen {
				return nil, fmt.Errorf("lzf: output exceeds %d bytes", outLen)
			}
			out = append(out, in[ip:ip+n]...)
			ip += n
			continue
		}

		// Back reference.
		n := ctrl >> 5
		if n == 7 {
			if ip >= len(in) {
				return nil, fmt.Errorf("lzf: truncated back reference length")
			}
			n += int(in[ip])
			ip++
		}
		if ip >= len(in) {
			return nil, fmt.Errorf("lzf: truncated back reference offset")
		}
		ref := len(out) - ((ctrl & 0x1f) << 8) - 1 - int(in[ip])
		ip++
		n += 2
		if ref < 0 {
			return nil, fmt.Errorf("lzf: back reference before start of output")
		}
		if len(out)+n > outLen {
			return nil, fmt.Errorf("lzf: output exceeds %d bytes", outLen)
		}
		// Copy byte by byte; the reference may overlap the bytes being written.
		for i := 0; i < n; i++ {
			out = append(out, out[ref+i])
		}
	}
	if len(out) != outLen {
		return nil, fmt.Errorf("lzf: decompressed %d bytes, expected %d", len(out), outLen)
	}
	return out, nil
}
