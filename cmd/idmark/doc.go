// Command idmark watermarks every image, GIF, and video passed on the
// command line.
//
// Files are usually dropped onto the executable, so idmark takes plain
// positional paths and has no subcommands. Stills are written to images/,
// GIF intermediates to gifs/, and watermarked videos (including converted
// GIFs) to videos/ under the configured work directory.
//
// When stdin is a terminal the command waits for Enter before exiting so a
// console window opened by a drag-and-drop launch stays readable; pass
// --no-wait to disable that.
package main
