// Package mp4source extracts H.264 access units from progressive and
// fragmented MP4 files as Annex B byte streams with decode and presentation
// timestamps, ready to be pushed into a multiplexer.
package mp4source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/avcpull/pkg/ports"
)

var (
	// ErrNoVideoTrack is returned when the file has no video track.
	ErrNoVideoTrack = errors.New("mp4source: no video track")

	// ErrNotAVC is returned when the video track is not H.264.
	ErrNotAVC = errors.New("mp4source: video track is not H.264")
)

// AccessUnit is one coded picture in decode order.
type AccessUnit struct {
	Data     []byte // Annex B; sync samples carry SPS and PPS in front
	DTS      time.Duration
	PTS      time.Duration
	Duration time.Duration
	Keyframe bool
}

// Track is the extracted video track.
type Track struct {
	Width      int
	Height     int
	Timescale  uint32
	Fragmented bool
	Units      []AccessUnit
}

// ReadFile reads and extracts the video track of an MP4 file.
func ReadFile(fs ports.FileSystem, path string) (*Track, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mp4source: read %s: %w", path, err)
	}
	track, err := Read(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return track, nil
}

// Read extracts the video track of an in-memory MP4 file.
func Read(data []byte) (*Track, error) {
	reader := bytes.NewReader(data)

	mp4File, err := mp4.DecodeFile(reader)
	if err != nil {
		return nil, fmt.Errorf("mp4source: decode mp4: %w", err)
	}

	moov := mp4File.Moov
	if mp4File.IsFragmented() && mp4File.Init != nil {
		moov = mp4File.Init.Moov
	}
	if moov == nil {
		return nil, fmt.Errorf("%w: no moov box", ErrNoVideoTrack)
	}

	info, err := findVideoTrack(moov)
	if err != nil {
		return nil, err
	}

	track := &Track{
		Width:      info.width,
		Height:     info.height,
		Timescale:  info.timescale,
		Fragmented: mp4File.IsFragmented(),
	}
	if track.Fragmented {
		track.Units, err = readFragments(mp4File, info)
	} else {
		track.Units, err = readSamples(info, reader)
	}
	if err != nil {
		return nil, err
	}
	return track, nil
}

type trackInfo struct {
	trak          *mp4.TrakBox
	id            uint32
	timescale     uint32
	width, height int
	paramSets     []byte // SPS and PPS in Annex B
}

func findVideoTrack(moov *mp4.MoovBox) (*trackInfo, error) {
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}

		info := &trackInfo{trak: trak, id: trak.Tkhd.TrackID, timescale: 1000}
		if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
			info.timescale = trak.Mdia.Mdhd.Timescale
		}

		var avcC *mp4.AvcCBox
		if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil && trak.Mdia.Minf.Stbl.Stsd != nil {
			for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
				if entry, ok := child.(*mp4.VisualSampleEntryBox); ok && entry.AvcC != nil {
					avcC = entry.AvcC
					info.width, info.height = int(entry.Width), int(entry.Height)
					break
				}
			}
		}
		if avcC == nil {
			return nil, ErrNotAVC
		}

		for _, ps := range append(append([][]byte{}, avcC.SPSnalus...), avcC.PPSnalus...) {
			info.paramSets = append(info.paramSets, 0, 0, 0, 1)
			info.paramSets = append(info.paramSets, ps...)
		}
		return info, nil
	}
	return nil, ErrNoVideoTrack
}

func readSamples(info *trackInfo, reader io.ReadSeeker) ([]AccessUnit, error) {
	if info.trak.Mdia.Minf == nil || info.trak.Mdia.Minf.Stbl == nil {
		return nil, fmt.Errorf("mp4source: no sample table")
	}
	stbl := info.trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil {
		return nil, fmt.Errorf("mp4source: no stsz box")
	}

	syncSamples := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	count := stbl.Stsz.SampleNumber
	units := make([]AccessUnit, 0, count)
	for nr := uint32(1); nr <= count; nr++ {
		sample, err := sampleData(stbl, reader, nr)
		if err != nil {
			return nil, fmt.Errorf("mp4source: sample %d: %w", nr, err)
		}

		var decodeTime uint64
		var dur uint32
		if stbl.Stts != nil {
			decodeTime, dur = stbl.Stts.GetDecodeTime(nr)
		}
		var cto int32
		if stbl.Ctts != nil {
			cto = stbl.Ctts.GetCompositionTimeOffset(nr)
		}

		// Without stss every sample is a sync sample.
		keyframe := stbl.Stss == nil || syncSamples[nr]
		unit, err := info.unit(sample, decodeTime, cto, dur, keyframe)
		if err != nil {
			return nil, fmt.Errorf("mp4source: sample %d: %w", nr, err)
		}
		units = append(units, unit)
	}
	return units, nil
}

func readFragments(mp4File *mp4.File, info *trackInfo) ([]AccessUnit, error) {
	var trex *mp4.TrexBox
	if mvex := mp4File.Init.Moov.Mvex; mvex != nil {
		for _, t := range mvex.Trexs {
			if t.TrackID == info.id {
				trex = t
				break
			}
		}
	}

	var units []AccessUnit
	fragNr := 0
	for _, seg := range mp4File.Segments {
		for _, frag := range seg.Fragments {
			fragNr++
			if frag.Moof == nil || !hasTrack(frag.Moof, info.id) {
				continue
			}

			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				return nil, fmt.Errorf("mp4source: fragment %d: %w", fragNr, err)
			}
			for _, s := range samples {
				unit, err := info.unit(s.Data, s.DecodeTime, s.CompositionTimeOffset, s.Dur, mp4.IsSyncSampleFlags(s.Flags))
				if err != nil {
					return nil, fmt.Errorf("mp4source: sample at %d: %w", s.DecodeTime, err)
				}
				units = append(units, unit)
			}
		}
	}
	return units, nil
}

func hasTrack(moof *mp4.MoofBox, id uint32) bool {
	for _, traf := range moof.Trafs {
		if traf.Tfhd != nil && traf.Tfhd.TrackID == id {
			return true
		}
	}
	return false
}

// unit converts one length-prefixed sample into an access unit.
func (info *trackInfo) unit(sample []byte, decodeTime uint64, cto int32, dur uint32, keyframe bool) (AccessUnit, error) {
	nalus, err := avc.GetNalusFromSample(sample)
	if err != nil {
		return AccessUnit{}, err
	}

	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	var data []byte
	if keyframe {
		data = make([]byte, 0, len(info.paramSets)+size)
		data = append(data, info.paramSets...)
	} else {
		data = make([]byte, 0, size)
	}
	for _, n := range nalus {
		data = append(data, 0, 0, 0, 1)
		data = append(data, n...)
	}

	return AccessUnit{
		Data:     data,
		DTS:      info.ticks(int64(decodeTime)),
		PTS:      info.ticks(int64(decodeTime) + int64(cto)),
		Duration: info.ticks(int64(dur)),
		Keyframe: keyframe,
	}, nil
}

// ticks converts media timescale units to a duration without overflowing
// for long streams.
func (info *trackInfo) ticks(t int64) time.Duration {
	ts := int64(info.timescale)
	return time.Duration(t/ts)*time.Second + time.Duration(t%ts)*time.Second/time.Duration(ts)
}

// sampleData reads one sample of a progressive file.
func sampleData(stbl *mp4.StblBox, reader io.ReadSeeker, sampleNr uint32) ([]byte, error) {
	if stbl.Stsc == nil {
		return nil, fmt.Errorf("missing stsc box")
	}

	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(sampleNr))
	if err != nil {
		return nil, fmt.Errorf("chunk of sample: %w", err)
	}

	var chunkOffset uint64
	switch {
	case stbl.Stco != nil:
		chunkOffset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return nil, fmt.Errorf("chunk offset: %w", err)
		}
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return nil, fmt.Errorf("chunk %d out of range", chunkNr)
		}
		chunkOffset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return nil, fmt.Errorf("no stco or co64 box")
	}

	offset := chunkOffset
	for s := uint32(firstSampleInChunk); s < sampleNr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}

	if _, err := reader.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	data := make([]byte, stbl.Stsz.GetSampleSize(int(sampleNr)))
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}
