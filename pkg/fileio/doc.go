// Package fileio wraps the small set of file operations Burrow needs:
// whole-file load/save/append, removal, and directory listing with an
// extension filter. File-mode transfers and job spilling go through it.
package fileio
