// 包 geo：地理查询区域与坐标的最小数据结构，供提供方抓取与空间选择共用
package geo

import "math"

// LatLon：WGS84 坐标（十进制度）
type LatLon struct {
	Lat float64
	Lon float64
}

// Valid：坐标是否落在真实世界范围内
// 背景：上游载荷中偶见 lat=91 之类的越界记录，解析阶段必须拒绝，绝不入库
func (ll LatLon) Valid() bool {
	if math.IsNaN(ll.Lat) || math.IsNaN(ll.Lon) {
		return false
	}
	return ll.Lat >= -90 && ll.Lat <= 90 && ll.Lon >= -180 && ll.Lon <= 180
}

// Bound：矩形查询区域（最小/最大经纬度）
type Bound struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

func (b Bound) Valid() bool {
	return LatLon{Lat: b.MinLat, Lon: b.MinLon}.Valid() &&
		LatLon{Lat: b.MaxLat, Lon: b.MaxLon}.Valid() &&
		b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

// Contains：坐标是否位于区域内（含边界）
func (b Bound) Contains(ll LatLon) bool {
	return ll.Lat >= b.MinLat && ll.Lat <= b.MaxLat && ll.Lon >= b.MinLon && ll.Lon <= b.MaxLon
}

// Point：屏幕投影坐标（像素）
type Point struct {
	X float64
	Y float64
}

// Projection：坐标到屏幕空间的投影函数，由外部叠加层提供
type Projection func(LatLon) Point

// Distance：两投影点的欧氏距离（像素）
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
