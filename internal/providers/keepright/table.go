package keepright

// 静态错误分类表：KeepRight 的编号体系按十位分组（190 组下挂 191..198 等）
// 背景：该表由服务端 schema 固化，不提供远端枚举接口，随代码编译
var errorTable = []struct {
	code  int
	label string
}{
	{0, "default"},
	{20, "multiple nodes on the same spot"},
	{30, "non-closed areas"},
	{40, "dead-ended one-ways"},
	{50, "almost-junctions"},
	{60, "deprecated tags"},
	{70, "missing tags"},
	{90, "motorways without ref"},
	{100, "places of worship without religion"},
	{110, "point of interest without name"},
	{120, "ways without nodes"},
	{130, "floating islands"},
	{150, "railway crossings without tag"},
	{160, "wrongly used railway crossing tag"},
	{170, "fixme-tagged items"},
	{180, "relations without type"},
	{190, "intersections without junctions"},
	{191, "highway-highway"},
	{192, "highway-waterway"},
	{193, "highway-riverbank"},
	{194, "waterway-waterway"},
	{195, "cycleway-cycleway"},
	{196, "highway-cycleway"},
	{197, "cycleway-waterway"},
	{198, "cycleway-riverbank"},
	{200, "overlapping ways"},
	{201, "highway-highway"},
	{202, "highway-waterway"},
	{203, "highway-riverbank"},
	{204, "waterway-waterway"},
	{205, "cycleway-cycleway"},
	{206, "highway-cycleway"},
	{207, "cycleway-waterway"},
	{208, "cycleway-riverbank"},
	{210, "loopings"},
	{220, "misspelled tags"},
	{230, "layer conflicts"},
	{231, "mixed layers intersections"},
	{232, "strange layers"},
	{270, "motorways connected directly"},
	{280, "boundaries"},
	{281, "missing name"},
	{282, "missing admin_level"},
	{283, "not closed loop"},
	{284, "splitting boundary"},
	{285, "admin_level too high"},
	{290, "restrictions"},
	{291, "missing type"},
	{292, "missing from way"},
	{293, "missing to way"},
	{294, "from or to not a way"},
	{295, "via is not on the way ends"},
	{296, "wrong restriction angle"},
	{297, "wrong direction of to member"},
	{298, "already restricted by oneway"},
	{300, "missing maxspeed"},
	{310, "roundabouts"},
	{311, "not closed loop"},
	{312, "wrong direction"},
	{313, "faintly connected"},
	{320, "*_link-connections"},
	{350, "bridge-tags"},
	{360, "language unknown"},
	{370, "doubled places"},
	{380, "non-physical use of sport-tag"},
	{390, "missing tracktype"},
	{400, "geometry glitches"},
	{401, "missing turn restriction"},
	{402, "impossible angles"},
	{410, "website"},
	{411, "http error"},
	{412, "domain hijacking"},
	{413, "non-match"},
}

// 输出格式与 Accept 头的映射
var formats = map[string]string{
	"geojson": "application/json",
	"gpx":     "application/gpx+xml",
	"rss":     "application/rss+xml",
}
