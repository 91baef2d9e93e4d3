package images

import "errors"

var (
	ErrCatalogRead   = errors.New("failed to read image catalog")
	ErrCatalogParse  = errors.New("failed to parse image catalog")
	ErrCatalogWrite  = errors.New("failed to write image catalog")
	ErrUnknownImage  = errors.New("unknown image")
	ErrImageNotFound = errors.New("image does not exist")
	ErrDownload      = errors.New("failed to download image")
	ErrFileSystem    = errors.New("image file operation failed")
)
