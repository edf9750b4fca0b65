package storage

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const kmlNamespace = "http://www.opengis.net/kml/2.2"

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	NS       string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name          string       `xml:"name,omitempty"`
	ExtendedData  *kmlExtended `xml:"ExtendedData,omitempty"`
	Point         *kmlPoint    `xml:"Point,omitempty"`
	Polygon       *kmlPolygon  `xml:"Polygon,omitempty"`
	MultiGeometry *kmlMulti    `xml:"MultiGeometry,omitempty"`
}

type kmlExtended struct {
	Data []kmlData `xml:"Data"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	Ring kmlRing `xml:"LinearRing"`
}

type kmlRing struct {
	Coordinates string `xml:"coordinates"`
}

type kmlMulti struct {
	Polygons []kmlPolygon `xml:"Polygon"`
}

func encodeKML(t *Table) ([]byte, error) {
	doc := kmlRoot{NS: kmlNamespace, Document: kmlDocument{Name: t.Name}}
	for _, r := range t.Rows {
		pm := kmlPlacemark{}
		if len(t.Columns) > 0 {
			pm.Name = formatValue(r.Values[t.Columns[0]])
			ext := &kmlExtended{}
			for _, c := range t.Columns {
				ext.Data = append(ext.Data, kmlData{Name: c, Value: formatValue(r.Values[c])})
			}
			pm.ExtendedData = ext
		}
		setKMLGeometry(&pm, r.Geometry)
		doc.Document.Placemarks = append(doc.Document.Placemarks, pm)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func setKMLGeometry(pm *kmlPlacemark, g orb.Geometry) {
	switch geom := g.(type) {
	case orb.Point:
		pm.Point = &kmlPoint{Coordinates: kmlCoords([]orb.Point{geom})}
	case orb.Polygon:
		p := kmlPoly(geom)
		pm.Polygon = &p
	case orb.Ring:
		p := kmlPoly(orb.Polygon{geom})
		pm.Polygon = &p
	case orb.Bound:
		p := kmlPoly(geom.ToPolygon())
		pm.Polygon = &p
	case orb.MultiPolygon:
		m := &kmlMulti{}
		for _, poly := range geom {
			m.Polygons = append(m.Polygons, kmlPoly(poly))
		}
		pm.MultiGeometry = m
	}
}

func kmlPoly(p orb.Polygon) kmlPolygon {
	out := kmlPolygon{}
	for i, ring := range p {
		b := kmlBoundary{Ring: kmlRing{Coordinates: kmlCoords(ring)}}
		if i == 0 {
			out.Outer = b
		} else {
			out.Inner = append(out.Inner, b)
		}
	}
	return out
}

// kmlCoords renders "lon,lat" tuples separated by spaces.
func kmlCoords(pts []orb.Point) string {
	var b strings.Builder
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(p.Lon(), 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Lat(), 'f', -1, 64))
	}
	return b.String()
}

// encodeKMZ zips the KML document as doc.kml.
func encodeKMZ(t *Table) ([]byte, error) {
	kml, err := encodeKML(t)
	if err != nil {
		return nil, err
	}
	return zipFiles([]zipEntry{{Name: "doc.kml", Data: kml}})
}

type zipEntry struct {
	Name string
	Data []byte
}

func zipFiles(entries []zipEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
