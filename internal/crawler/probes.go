// File: internal/crawler/probes.go
package crawler

import "github.com/kaidos-lab/notesift/internal/browser"

// Probe catalogs for an unstable external DOM. Each catalog is an ordered
// list tried in sequence until one hits, so new site variants are additive
// data changes, not new branching code.

// identityProbes are positive proof of an authenticated session.
var identityProbes = []browser.Selector{
	browser.CSS("#user-avatar"),
	browser.CSS(".user-name"),
	browser.CSS(".user-side-content"),
	browser.CSS(".avatar-wrapper"),
	browser.CSS(".author-wrapper"),
	browser.CSS(".user-nickname"),
	browser.CSS(".nickname"),
	browser.CSS(`[class*="user-name"]`),
	browser.CSS(`[class*="avatar"]`),
}

// loginModalProbes match the blocking login dialog.
var loginModalProbes = []browser.Selector{
	browser.CSS(".login-container"),
	browser.CSS(".login-modal"),
}

// loginButtonProbes match explicit login entry points.
var loginButtonProbes = []browser.Selector{
	browser.CSS(".login-btn"),
	browser.Text("登录注册"),
	browser.Text("登录"),
	browser.CSS(".side-bar-component .login-btn"),
	browser.XPath(`//button[contains(normalize-space(.), "登录")]`),
}

// closeOverlayProbes match dismissable ad/popup overlays that are not login
// walls.
var closeOverlayProbes = []browser.Selector{
	browser.CSS(".close-icon"),
	browser.CSS(`[class*="close-circle"]`),
	browser.CSS(".icon-close"),
}

// captchaProbes match challenge widgets.
var captchaProbes = []browser.Selector{
	browser.CSS(".slide-verify"),
}

// endMarkerProbes indicate no further result pages exist.
var endMarkerProbes = []browser.Selector{
	browser.Text("THE END"),
	browser.Text("- THE END -"),
	browser.Text("没有更多内容"),
	browser.Text("没有更多了"),
	browser.Text("到底了"),
	browser.CSS(".end-container"),
}

// nextPageProbes match explicit pagination controls.
var nextPageProbes = []browser.Selector{
	browser.XPath(`//button[contains(normalize-space(.), "下一页")]`),
	browser.XPath(`//a[contains(normalize-space(.), "下一页")]`),
	browser.Text("下一页"),
	browser.CSS(".btn-next"),
	browser.CSS(".pagination-next"),
	browser.XPath(`//*[@aria-label="下一页" or contains(@aria-label, "下一页")]`),
}

// Security restriction markers, matched against title+HTML text. The URL
// marker is checked separately against the current location.
const restrictionURLMarker = "website-login/error"

var restrictionTextMarkers = []string{
	"安全限制",
	"访问频次异常",
	"请勿频繁操作",
}

const restrictionCodeRateLimit = "300013"

// filterMenuProbes open the collapsed search-filter panel.
var filterMenuProbes = []browser.Selector{
	browser.CSS(".graphic-filter"),
	browser.Text("筛选"),
	browser.CSS(".filter-btn"),
	browser.CSS(".filter-box"),
}

// UI label tables for the filter panel. Several labels per value because the
// platform renames them between releases.
var noteTypeTabLabels = map[int][]string{
	NoteVideo: {"视频"},
	NoteImage: {"图文"},
}

var timeRangeLabels = map[int][]string{
	TimeOneDay:  {"一天内", "24小时内", "近24小时"},
	TimeOneWeek: {"一周内", "近7天", "近1周"},
	TimeSixMo:   {"半年内", "近6个月", "近半年"},
}

var sortLabels = map[SortType][]string{
	SortGeneral:     {"综合", "综合推荐"},
	SortPopularity:  {"最热", "最多点赞", "热度"},
	SortNewest:      {"最新", "最新发布"},
	SortMostComment: {"最多评论", "评论最多", "热议"},
}

var searchScopeLabels = map[int][]string{
	1: {"已看过"},
	2: {"未看过"},
	3: {"已关注"},
}

var locationDistanceLabels = map[int][]string{
	1: {"同城"},
	2: {"附近"},
}

// -- Note detail page catalogs --
// Scoped probes are relative XPath so they can be anchored below the note
// container and avoid sidebar/recommendation bleed.

var noteContainerProbes = []browser.Selector{
	browser.CSS(".note-container"),
	browser.CSS(".main-container"),
	browser.CSS("#detail-container"),
	browser.CSS("body"),
}

var detailTitleProbes = []browser.Selector{
	browser.XPath(`.//*[@id="detail-title"]`),
	browser.XPath(`.//*[contains(@class, "note-detail-title")]`),
	browser.XPath(`.//*[@class="title"]`),
	browser.XPath(`.//h1`),
}

var detailDescProbes = []browser.Selector{
	browser.XPath(`.//*[@id="detail-desc"]`),
	browser.XPath(`.//*[@class="desc"]`),
	browser.XPath(`.//*[contains(@class, "note-text")]`),
}

var mediaContainerProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "media-container")]`),
	browser.XPath(`.//*[contains(@class, "note-slider-img")]`),
	browser.XPath(`.//*[contains(@class, "image-container")]`),
}

var commentCountProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "total-reply")]`),
	browser.XPath(`.//*[contains(@class, "comment-count")]`),
}

var commentItemProbe = browser.XPath(`.//*[contains(@class, "comment-item") and not(contains(@class, "comment-item-sub"))]`)

var commentUserProbes = []browser.Selector{
	browser.XPath(`.//*[@class="name"]`),
	browser.XPath(`.//*[contains(@class, "nickname")]`),
	browser.XPath(`.//*[contains(@class, "user-name")]`),
}

var commentContentProbes = []browser.Selector{
	browser.XPath(`.//*[@class="content"]`),
	browser.XPath(`.//*[contains(@class, "comment-content")]`),
	browser.XPath(`.//*[contains(@class, "note-text")]`),
}

var commentDateProbes = []browser.Selector{
	browser.XPath(`.//*[@class="date"]`),
	browser.XPath(`.//*[contains(@class, "comment-date")]`),
}

var commentLikeProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "like-count")]`),
	browser.XPath(`.//*[contains(@class, "like-wrapper")]//*[contains(@class, "count")]`),
}

var commentLocationProbe = browser.XPath(`.//*[contains(@class, "location")]`)

var replyExpandProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "reply-expand")]`),
	browser.XPath(`.//*[contains(normalize-space(.), "展开") and contains(normalize-space(.), "回复")]`),
	browser.XPath(`.//*[contains(normalize-space(.), "条回复")]`),
}

var replyItemProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "comment-item-sub")]`),
	browser.XPath(`.//*[contains(@class, "reply-item")]`),
}

var publishDateProbes = []browser.Selector{
	browser.XPath(`.//*[@class="date"]`),
	browser.XPath(`.//*[contains(@class, "publish-date")]`),
	browser.XPath(`.//*[contains(@class, "bottom-container")]//*[contains(@class, "time")]`),
	browser.XPath(`.//span[contains(@class, "date")]`),
}

var authorNameProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "author-wrapper")]//*[@class="name"]`),
	browser.XPath(`.//*[contains(@class, "username")]`),
	browser.XPath(`.//*[contains(@class, "author-name")]`),
}

var authorLinkProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "author-wrapper")]//a[contains(@href, "/user/profile/")]`),
	browser.XPath(`.//*[contains(@class, "author-container")]//a[contains(@href, "/user/profile/")]`),
}

var interactContainerProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "interact-container")]`),
	browser.XPath(`.//*[contains(@class, "interaction-container")]`),
}

var interactItemProbe = browser.XPath(`.//*[contains(@class, "interact-item")]`)

var interactCountProbes = []browser.Selector{
	browser.XPath(`.//*[contains(@class, "count")]`),
	browser.XPath(`.//*[contains(@class, "text")]`),
}

var likeFallbackProbe = browser.XPath(`.//*[contains(@class, "like-wrapper")]//*[contains(@class, "count")]`)

const unavailableMarker = "当前笔记暂时无法浏览"
