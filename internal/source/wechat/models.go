package wechat

// apiError is embedded in every response; errcode 0 or absent means success.
type apiError struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type tokenResponse struct {
	apiError
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// MaterialCount is the get_materialcount response.
type MaterialCount struct {
	apiError
	VoiceCount int `json:"voice_count"`
	VideoCount int `json:"video_count"`
	ImageCount int `json:"image_count"`
	NewsCount  int `json:"news_count"`
}

type batchRequest struct {
	Type      string `json:"type,omitempty"`
	Offset    int    `json:"offset"`
	Count     int    `json:"count"`
	NoContent *int   `json:"no_content,omitempty"`
}

// BatchResponse covers both batchget_material and freepublish/batchget.
type BatchResponse struct {
	apiError
	TotalCount int    `json:"total_count"`
	ItemCount  int    `json:"item_count"`
	Item       []Item `json:"item"`
}

// Item is one listing entry. Permanent material carries MediaID, published
// articles carry ArticleID instead.
type Item struct {
	MediaID    string      `json:"media_id"`
	ArticleID  string      `json:"article_id"`
	Content    ItemContent `json:"content"`
	UpdateTime int64       `json:"update_time"`
}

type ItemContent struct {
	NewsItem   []NewsItem `json:"news_item"`
	CreateTime int64      `json:"create_time"`
	UpdateTime int64      `json:"update_time"`
}

type NewsItem struct {
	Title            string `json:"title"`
	Author           string `json:"author"`
	Digest           string `json:"digest"`
	Content          string `json:"content"`
	ContentSourceURL string `json:"content_source_url"`
	ThumbMediaID     string `json:"thumb_media_id"`
	URL              string `json:"url"`
}
