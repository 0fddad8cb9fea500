/*
   SparcPC - SunPCi co-processor card bridge
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SparcPC.

   SparcPC is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SparcPC is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SparcPC. If not, see <http://www.gnu.org/licenses/>.
*/

package storage

/*
	diskGeometry derives a CHS geometry for a hard disk or CD-ROM image.
	Sectors per track is fixed at 63; the head count steps up with total
	size so that the cylinder count stays within the classic CHS limit of
	1024 for disks up to about 8 GB.
*/
func diskGeometry(totalSectors uint64, sectorSize uint32) (uint32, uint32, uint32) {

	sizeMB := totalSectors * uint64(sectorSize) / (1024 * 1024)

	var heads uint32
	switch {
	case sizeMB <= 504:
		heads = 16
	case sizeMB <= 1008:
		heads = 32
	case sizeMB <= 2016:
		heads = 64
	case sizeMB <= 4032:
		heads = 128
	default:
		heads = 255
	}

	const sectors = 63

	cylinders := uint32(totalSectors / uint64(heads*sectors))
	if cylinders > 1024 {
		cylinders = 1024
	}

	return cylinders, heads, sectors
}

// floppyGeometry looks up the geometry for a raw floppy image from its
// exact byte size. Callers have already validated the size against the
// standard capacities.
func floppyGeometry(size int64) (uint32, uint32, uint32) {

	switch size {
	case 163840: // 160 KB - 5.25" SS/DD
		return 40, 1, 8
	case 184320: // 180 KB - 5.25" SS/DD
		return 40, 1, 9
	case 327680: // 320 KB - 5.25" DS/DD
		return 40, 2, 8
	case 368640: // 360 KB - 5.25" DS/DD
		return 40, 2, 9
	case 737280: // 720 KB - 3.5" DD
		return 80, 2, 9
	case 1228800: // 1.2 MB - 5.25" HD
		return 80, 2, 15
	case 1474560: // 1.44 MB - 3.5" HD
		return 80, 2, 18
	case 2949120: // 2.88 MB - 3.5" ED
		return 80, 2, 36
	}

	// unknown size, assume 1.44 MB
	return 80, 2, 18
}

// CHSToLBA converts a 1-based sector CHS address to a linear block address
// within the given geometry.
func CHSToLBA(cylinder, head, sector, heads, sectorsPerTrack uint32) uint64 {
	return (uint64(cylinder)*uint64(heads)+uint64(head))*
		uint64(sectorsPerTrack) + uint64(sector) - 1
}

// LBAToCHS is the inverse of CHSToLBA.
func LBAToCHS(lba uint64, heads, sectorsPerTrack uint32) (uint32, uint32, uint32) {
	sector := uint32(lba%uint64(sectorsPerTrack)) + 1
	lba /= uint64(sectorsPerTrack)
	head := uint32(lba % uint64(heads))
	cylinder := uint32(lba / uint64(heads))
	return cylinder, head, sector
}
