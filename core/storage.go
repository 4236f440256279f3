package core

// BlockDevice is the raw byte-stream view of the storage medium handed to
// the network file-transfer service. The service's command grammar and
// directory semantics live outside this firmware; the bridge's only
// obligation at this boundary is a working device and the SPI guard.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
}

// StorageService is the network-service entry point. It receives the
// block device and the guard it must hold around every storage operation,
// and is expected to park forever.
type StorageService func(dev BlockDevice, guard *SPIGuard)

var storageService StorageService

// SetStorageService registers the external file-transfer service.
func SetStorageService(svc StorageService) {
	storageService = svc
}

// RunStorageService hands control to the registered service. If none is
// registered the caller parks in its own idle loop.
func RunStorageService(dev BlockDevice, guard *SPIGuard) bool {
	if storageService == nil {
		return false
	}
	storageService(dev, guard)
	return true
}
