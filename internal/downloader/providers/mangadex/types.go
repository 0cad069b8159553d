package mangadex

import "time"

type relationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		FileName string `json:"fileName"`
	} `json:"attributes"`
}

type multiLingualString map[string]string

func (mls multiLingualString) get(lang string) string {
	if val, ok := mls[lang]; ok {
		return val
	}
	return ""
}

type mangaResponse struct {
	Data mangaData `json:"data"`
}

type mangaListResponse struct {
	Data []mangaData `json:"data"`
}

type mangaData struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Attributes    mangaAttributes `json:"attributes"`
	Relationships []relationship  `json:"relationships"`
}

type mangaAttributes struct {
	Title multiLingualString `json:"title"`
}

type chapterFeedResponse struct {
	Data  []chapterData `json:"data"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

type chapterData struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes chapterAttributes `json:"attributes"`
}

type chapterAttributes struct {
	Title              string    `json:"title"`
	Volume             string    `json:"volume"`
	Chapter            string    `json:"chapter"`
	Pages              int       `json:"pages"`
	TranslatedLanguage string    `json:"translatedLanguage"`
	PublishAt          time.Time `json:"publishAt"`
}

type atHomeServerResponse struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`      // Full-quality page filenames
		DataSaver []string `json:"dataSaver"` // Compressed page filenames
	} `json:"chapter"`
}
