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

import (
	"testing"
)

func TestDiskGeometryHeadSteps(t *testing.T) {

	mb := uint64(1024 * 1024 / SectorSizeHD) // sectors per MB

	cases := []struct {
		sizeMB uint64
		heads  uint32
	}{
		{100, 16},
		{504, 16},
		{505, 32},
		{1008, 32},
		{1009, 64},
		{2016, 64},
		{2017, 128},
		{4032, 128},
		{4033, 255},
		{8000, 255},
	}

	for _, c := range cases {
		_, heads, sectors := diskGeometry(c.sizeMB*mb, SectorSizeHD)
		if heads != c.heads {
			t.Errorf("%d MB: got %d heads, want %d", c.sizeMB, heads, c.heads)
		}
		if sectors != 63 {
			t.Errorf("%d MB: got %d sectors per track, want 63",
				c.sizeMB, sectors)
		}
	}
}

func TestDiskGeometryCylinderCap(t *testing.T) {
	cylinders, _, _ := diskGeometry(16*1024*1024*1024/SectorSizeHD,
		SectorSizeHD)
	if cylinders != 1024 {
		t.Errorf("got %d cylinders, want cap at 1024", cylinders)
	}
}

func TestFloppyGeometry(t *testing.T) {

	cases := []struct {
		size    int64
		c, h, s uint32
	}{
		{163840, 40, 1, 8},
		{184320, 40, 1, 9},
		{327680, 40, 2, 8},
		{368640, 40, 2, 9},
		{737280, 80, 2, 9},
		{1228800, 80, 2, 15},
		{1474560, 80, 2, 18},
		{2949120, 80, 2, 36},
	}

	for _, cs := range cases {
		c, h, s := floppyGeometry(cs.size)
		if c != cs.c || h != cs.h || s != cs.s {
			t.Errorf("size %d: got %d/%d/%d, want %d/%d/%d",
				cs.size, c, h, s, cs.c, cs.h, cs.s)
		}
		// geometry must account for the full image
		if uint64(c)*uint64(h)*uint64(s)*SectorSizeFloppy != uint64(cs.size) {
			t.Errorf("size %d: geometry %d/%d/%d does not cover image",
				cs.size, c, h, s)
		}
	}
}

func TestCHSRoundTrip(t *testing.T) {

	const heads, spt = 16, 63

	for _, lba := range []uint64{0, 1, 62, 63, 1007, 1008, 99999} {
		c, h, s := LBAToCHS(lba, heads, spt)
		if got := CHSToLBA(c, h, s, heads, spt); got != lba {
			t.Errorf("lba %d: round trip via %d/%d/%d yields %d",
				lba, c, h, s, got)
		}
	}
}

func TestCHSToLBAFirstSector(t *testing.T) {
	if got := CHSToLBA(0, 0, 1, 16, 63); got != 0 {
		t.Errorf("C/H/S 0/0/1 maps to %d, want 0", got)
	}
	if got := CHSToLBA(0, 1, 1, 16, 63); got != 63 {
		t.Errorf("C/H/S 0/1/1 maps to %d, want 63", got)
	}
	if got := CHSToLBA(1, 0, 1, 16, 63); got != 16*63 {
		t.Errorf("C/H/S 1/0/1 maps to %d, want %d", got, 16*63)
	}
}
