package api

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// City is a destination the catalog knows how to locate.
type City struct {
	County  string
	Center  types.GeoPoint
	Gateway string // main arrival hub
	Transit string // urban rail network
	Aliases []string
}

var cities = []City{
	{
		County:  "台北市",
		Center:  types.GeoPoint{Lat: 25.0478, Lng: 121.5170},
		Gateway: "台北車站",
		Transit: "台北捷運",
		Aliases: []string{"台北", "臺北", "臺北市", "taipei", "taipei city"},
	},
}

// LookupCity resolves a free-text destination to a known city.
func LookupCity(destination string) (City, bool) {
	d := strings.ToLower(strings.TrimSpace(destination))
	if d == "" {
		return City{}, false
	}
	for _, c := range cities {
		if d == strings.ToLower(c.County) || strings.Contains(d, strings.ToLower(c.County)) {
			return c, true
		}
		for _, a := range c.Aliases {
			if d == a || strings.Contains(d, a) {
				return c, true
			}
		}
	}
	return City{}, false
}

// Catalog is an offline data set with the same search methods as Client.
// It backs the producers when no upstream API key is configured.
type Catalog struct {
	hotels []Hotel
	places []Place
	delay  time.Duration
}

// NewCatalog returns the built-in catalog. Each call waits delay before
// answering, or returns early when ctx ends.
func NewCatalog(delay time.Duration) *Catalog {
	return &Catalog{hotels: catalogHotels, places: catalogPlaces, delay: delay}
}

func (c *Catalog) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// SearchHotels filters the catalog hotels by county, district and type.
func (c *Catalog) SearchHotels(ctx context.Context, q HotelQuery) ([]Hotel, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out []Hotel
	for _, h := range c.hotels {
		if q.County != "" && h.County != q.County {
			continue
		}
		if q.District != "" && h.District != q.District {
			continue
		}
		if len(q.HotelTypes) > 0 && !containsString(q.HotelTypes, h.Type) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// HotelPlans returns the room types of hotelID.
func (c *Catalog) HotelPlans(ctx context.Context, hotelID string, _ types.Date) ([]Room, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	for _, h := range c.hotels {
		if h.ID == hotelID {
			return append([]Room(nil), h.Rooms...), nil
		}
	}
	return nil, nil
}

// genericQueries match every catalog place; the catalog holds attractions only.
var genericQueries = map[string]bool{
	"":                   true,
	"景點":                 true,
	"旅遊景點":               true,
	"attractions":        true,
	"tourist attraction": true,
}

// NearbyPlaces returns catalog places within q.Radius of q.Location, nearest
// first. The text query matches the place name, type or description.
func (c *Catalog) NearbyPlaces(ctx context.Context, q NearbyQuery) ([]Place, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(q.TextQuery)
	if genericQueries[strings.ToLower(query)] {
		query = ""
	}
	radiusKm := float64(q.Radius) / 1000

	type hit struct {
		place Place
		dist  float64
	}
	var hits []hit
	for _, p := range c.places {
		if query != "" && !strings.Contains(p.Type, query) && !strings.Contains(p.Description, query) && !strings.Contains(p.Name, query) {
			continue
		}
		dist := 0.0
		if q.Location != nil && p.Location != nil {
			dist = q.Location.DistanceKm(*p.Location)
			if radiusKm > 0 && dist > radiusKm {
				continue
			}
		}
		hits = append(hits, hit{place: p, dist: dist})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]Place, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.place)
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func pt(lat, lng float64) *types.GeoPoint { return &types.GeoPoint{Lat: lat, Lng: lng} }

var catalogHotels = []Hotel{
	{
		ID:         "TPE001",
		Name:       "台北豪華大飯店",
		Address:    "台北市信義區忠孝東路五段10號",
		District:   "信義區",
		County:     "台北市",
		Type:       "五星級酒店",
		Rating:     4.8,
		PriceMin:   3500,
		PriceMax:   8000,
		Facilities: []string{"游泳池", "健身房", "SPA", "商務中心", "餐廳", "會議室"},
		Rooms: []Room{
			{Name: "豪華雙人房", Capacity: 2, Price: 4500, BedType: "King", Facilities: []string{"mini吧", "浴缸", "免費Wi-Fi", "電視"}, Available: true},
			{Name: "行政套房", Capacity: 2, Price: 7500, BedType: "King", Facilities: []string{"mini吧", "浴缸", "免費Wi-Fi", "電視", "客廳", "行政酒廊"}, Available: true},
		},
		Description: "位於信義區核心地帶，步行即可抵達台北101與信義商圈。",
		Location:    pt(25.0339639, 121.5644722),
	},
	{
		ID:         "TPE002",
		Name:       "台北舒適商旅",
		Address:    "台北市大安區復興南路一段20號",
		District:   "大安區",
		County:     "台北市",
		Type:       "精品商旅",
		Rating:     4.5,
		PriceMin:   2200,
		PriceMax:   4500,
		Facilities: []string{"免費早餐", "健身房", "商務中心", "洗衣服務"},
		Rooms: []Room{
			{Name: "標準雙人房", Capacity: 2, Price: 2500, BedType: "Queen", Facilities: []string{"免費Wi-Fi", "電視", "冰箱"}, Available: true},
			{Name: "商務單人房", Capacity: 1, Price: 2200, BedType: "Single", Facilities: []string{"免費Wi-Fi", "電視", "書桌", "咖啡機"}, Available: true},
		},
		Description: "鄰近捷運站的現代化商旅，適合商務旅客。",
		Location:    pt(25.0329694, 121.5438033),
	},
	{
		ID:         "TPE003",
		Name:       "台北家庭旅店",
		Address:    "台北市文山區木柵路一段100號",
		District:   "文山區",
		County:     "台北市",
		Type:       "經濟型旅館",
		Rating:     4.2,
		PriceMin:   1500,
		PriceMax:   3000,
		Facilities: []string{"免費停車", "免費Wi-Fi", "共用廚房"},
		Rooms: []Room{
			{Name: "家庭四人房", Capacity: 4, Price: 2800, BedType: "Two Double", Facilities: []string{"免費Wi-Fi", "電視", "冰箱", "微波爐"}, Available: true},
			{Name: "經濟雙人房", Capacity: 2, Price: 1800, BedType: "Double", Facilities: []string{"免費Wi-Fi", "電視"}, Available: true},
		},
		Description: "適合家庭旅遊的溫馨旅店，鄰近貓空纜車站。",
		Location:    pt(24.9880223, 121.5661233),
	},
}

var catalogPlaces = []Place{
	{
		ID:               "ATT001",
		Name:             "台北101",
		Address:          "台北市信義區信義路五段7號",
		District:         "信義區",
		Type:             "地標",
		Rating:           4.7,
		Description:      "樓高508米的摩天大樓，設有觀景台、高級餐廳和精品購物商場。",
		RecommendedHours: 3,
		AdmissionFee:     600,
		Location:         pt(25.033976, 121.5644722),
	},
	{
		ID:               "ATT002",
		Name:             "國立故宮博物院",
		Address:          "台北市士林區至善路二段221號",
		District:         "士林區",
		Type:             "博物館",
		Rating:           4.8,
		Description:      "收藏近70萬件中華文物與藝術品的博物館，適合歷史與文化之旅。",
		RecommendedHours: 4,
		AdmissionFee:     350,
		Location:         pt(25.1023899, 121.5482504),
	},
	{
		ID:               "ATT003",
		Name:             "陽明山國家公園",
		Address:          "台北市陽明山竹子湖路1-20號",
		District:         "北投區",
		Type:             "自然景點",
		Rating:           4.6,
		Description:      "以溫泉、火山地形和登山步道聞名的國家公園，自然生態豐富。",
		RecommendedHours: 6,
		AdmissionFee:     0,
		Location:         pt(25.1559892, 121.5608641),
	},
	{
		ID:               "ATT004",
		Name:             "饒河街觀光夜市",
		Address:          "台北市松山區饒河街",
		District:         "松山區",
		Type:             "夜市",
		Rating:           4.5,
		Description:      "台北著名夜市，提供各式台灣小吃、遊戲攤位和購物。",
		RecommendedHours: 2,
		AdmissionFee:     0,
		Location:         pt(25.0505033, 121.5772474),
	},
	{
		ID:               "ATT005",
		Name:             "貓空纜車",
		Address:          "台北市文山區新光路二段8號",
		District:         "文山區",
		Type:             "交通景點",
		Rating:           4.4,
		Description:      "連接文山區與貓空茶園的纜車，沿途欣賞山林自然風光，終點可品茶。",
		RecommendedHours: 3,
		AdmissionFee:     120,
		Location:         pt(24.9680503, 121.5798684),
	},
}
