// Package image builds SD card images the SoC BIOS boots from: an MBR disk
// with one FAT32 partition holding the payload files and a boot.json that
// tells the BIOS where in main_ram to load each of them.
package image

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/ccoveille/go-safecast"
	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

const (
	// ManifestName is the file the BIOS looks for on the card.
	ManifestName = "boot.json"

	sectorSize     = 512
	partitionStart = 2048
	minImageSize   = 32 << 20
	align          = 0x1_0000
)

// File is one payload. A nil Offset places the file after the previous one.
type File struct {
	Name   string
	Data   []byte
	Offset *uint64
}

// Placement is where a payload lands in memory.
type Placement struct {
	Name    string
	Address uint64
	Size    uint64
}

// Manifest maps file names to load addresses, as written to boot.json.
type Manifest map[string]string

// Place assigns load addresses inside mainRAM. Files keep their order; an
// explicit offset is relative to the start of mainRAM.
func Place(mainRAM soc.Region, files []File) ([]Placement, error) {
	if len(files) == 0 {
		return nil, socerr.New(socerr.InvalidOption, "image", "no payload files")
	}
	var out []Placement
	next := uint64(0)
	seen := map[string]bool{}
	for _, f := range files {
		name := path.Base(f.Name)
		if seen[name] || strings.EqualFold(name, ManifestName) {
			return nil, socerr.New(socerr.ResourceInUse, name, "duplicate payload name")
		}
		seen[name] = true

		size, err := safecast.ToUint64(len(f.Data))
		if err != nil {
			return nil, err
		}
		off := next
		if f.Offset != nil {
			off = *f.Offset
		}
		p := Placement{Name: name, Address: mainRAM.Origin + off, Size: size}
		if off > mainRAM.Size || size > mainRAM.Size-off {
			return nil, socerr.New(socerr.AddressConflictError, name,
				"0x%x bytes at offset 0x%x do not fit main_ram (0x%x bytes)", size, off, mainRAM.Size)
		}
		for _, q := range out {
			if p.Address < q.Address+q.Size && q.Address < p.Address+p.Size {
				return nil, socerr.New(socerr.AddressConflictError, name, "overlaps %s", q.Name)
			}
		}
		out = append(out, p)
		next = (off + size + align - 1) &^ (align - 1)
	}
	return out, nil
}

// ManifestFor renders placements the way boot.json lists them.
func ManifestFor(ps []Placement) Manifest {
	m := Manifest{}
	for _, p := range ps {
		m[p.Name] = fmt.Sprintf("0x%08x", p.Address)
	}
	return m
}

// Size returns an image size large enough for the payloads.
func Size(files []File) int64 {
	var total int64
	for _, f := range files {
		total += int64(len(f.Data))
	}
	size := 2*total + partitionStart*sectorSize + (8 << 20)
	size = (size + (1 << 20) - 1) &^ ((1 << 20) - 1)
	return max(size, minImageSize)
}

// Build writes the image to dst. dst must not exist yet.
func Build(log logr.Logger, dst string, mainRAM soc.Region, files []File) (Manifest, error) {
	placements, err := Place(mainRAM, files)
	if err != nil {
		return nil, err
	}
	manifest := ManifestFor(placements)
	doc, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}

	size := Size(files)
	sectors, err := safecast.ToUint32(size/sectorSize - partitionStart)
	if err != nil {
		return nil, fmt.Errorf("image too large: %w", err)
	}

	d, err := diskfs.Create(dst, size, diskfs.SectorSizeDefault)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dst, err)
	}
	defer d.Close()

	table := &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{{
			Bootable: true,
			Type:     mbr.Fat32LBA,
			Start:    partitionStart,
			Size:     sectors,
		}},
	}
	if err := d.Partition(table); err != nil {
		return nil, fmt.Errorf("partitioning %s: %w", dst, err)
	}
	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "SOCBOOT",
	})
	if err != nil {
		return nil, fmt.Errorf("formatting %s: %w", dst, err)
	}

	byName := map[string][]byte{ManifestName: append(doc, '\n')}
	names := []string{ManifestName}
	for _, f := range files {
		byName[path.Base(f.Name)] = f.Data
		names = append(names, path.Base(f.Name))
	}
	for _, name := range names {
		if err := writeFile(fs, "/"+name, byName[name]); err != nil {
			return nil, err
		}
		log.V(1).Info("file added", "file", name, "size", len(byName[name]))
	}
	log.Info("image written", "path", dst, "size", size, "files", len(files))
	return manifest, nil
}

func writeFile(fs filesystem.FileSystem, name string, data []byte) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// ReadFile returns a file from the FAT partition of an image.
func ReadFile(src, name string) ([]byte, error) {
	d, err := diskfs.Open(src, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, err
	}
	defer d.Close()
	fs, err := d.GetFilesystem(1)
	if err != nil {
		return nil, err
	}
	f, err := fs.OpenFile("/"+name, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// MainRAM reads the main_ram region from a design record written by emit.
func MainRAM(r io.Reader) (soc.Region, error) {
	var d struct {
		Regions []soc.Region `json:"regions"`
	}
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return soc.Region{}, fmt.Errorf("decoding design: %w", err)
	}
	i := slices.IndexFunc(d.Regions, func(r soc.Region) bool { return r.Name == "main_ram" })
	if i < 0 {
		return soc.Region{}, socerr.New(socerr.ResourceNotFound, "main_ram", "design has no main_ram")
	}
	return d.Regions[i], nil
}
