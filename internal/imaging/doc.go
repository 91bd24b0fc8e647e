// Package imaging composites the watermark onto still images in process.
//
// JPEG, PNG, BMP, and TIFF stills are decoded, stamped bottom-left with the
// watermark, and re-encoded in their original format. Everything else the
// classifier accepts as an image (HEIC, camera RAW, WebP, SVG, ICO) is left
// to the transcoder's still-overlay path; CanRender reports which route a
// file takes. The package also counts GIF frames for conversion progress.
package imaging
