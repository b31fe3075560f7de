package cdpcontrol

import (
	"context"
	"strconv"
)

const bannerID = "ai-commentator-banner"
const overlayID = "ai-commentator-lower-third"

// ProbeVideo reads size, readiness and layout of the tab's first <video>.
// A page without a video is reported with Present=false, not an error.
func (c *Client) ProbeVideo(ctx context.Context, targetID string) (VideoProbe, error) {
	var out VideoProbe
	if err := c.EvalOnTab(ctx, targetID, jsProbeVideo(), &out); err != nil {
		return VideoProbe{}, err
	}
	return out, nil
}

// MuteWithBanner mutes the tab's video, waiting up to wait for one to
// appear, and shows the commentator banner.
func (c *Client) MuteWithBanner(ctx context.Context, targetID string, waitMS int) error {
	return c.EvalOnTab(ctx, targetID, jsMuteWithBanner(waitMS), nil)
}

// UnmuteAndClearBanner restores video audio and removes the banner.
func (c *Client) UnmuteAndClearBanner(ctx context.Context, targetID string) error {
	return c.EvalOnTab(ctx, targetID, jsUnmuteAndClearBanner(), nil)
}

// VideoCommand runs play, pause, mute, unmute or status on the tab's video.
func (c *Client) VideoCommand(ctx context.Context, targetID, command string) (VideoStatus, error) {
	var out VideoStatus
	if err := c.EvalOnTab(ctx, targetID, jsVideoCommand(command), &out); err != nil {
		return VideoStatus{}, err
	}
	return out, nil
}

// ShowOverlay renders a lower-third caption over the video for ttlMS.
func (c *Client) ShowOverlay(ctx context.Context, targetID, text, color string, ttlMS int) error {
	return c.EvalOnTab(ctx, targetID, jsShowOverlay(text, color, ttlMS), nil)
}

func jsProbeVideo() string {
	return wrapJSEval(`
var v = document.querySelector("video");
if (!v) { return JSON.stringify({ok:true,data:{present:false}}); }
var r = v.getBoundingClientRect();
return JSON.stringify({ok:true,data:{
  present: true,
  ready_state: v.readyState,
  width: v.videoWidth,
  height: v.videoHeight,
  rect: {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height},
  muted: v.muted,
  paused: v.paused,
  current_time: v.currentTime,
  duration: isFinite(v.duration) ? v.duration : 0
}});`)
}

func jsMuteWithBanner(waitMS int) string {
	return wrapJSEvalAsync(`
var banner = function() {
  if (document.getElementById(` + jsString(bannerID) + `)) return;
  var b = document.createElement("div");
  b.id = ` + jsString(bannerID) + `;
  b.textContent = "AI commentary active";
  b.style.cssText = "position:fixed;top:8px;right:8px;z-index:2147483647;padding:4px 10px;border-radius:4px;background:#2563eb;color:#fff;font:600 12px sans-serif;pointer-events:none";
  document.body.appendChild(b);
};
var v = document.querySelector("video");
if (!v) {
  v = await new Promise(function(resolve) {
    var obs = new MutationObserver(function() {
      var found = document.querySelector("video");
      if (found) { obs.disconnect(); resolve(found); }
    });
    obs.observe(document.documentElement, {childList:true, subtree:true});
    setTimeout(function() { obs.disconnect(); resolve(null); }, ` + strconv.Itoa(waitMS) + `);
  });
}
if (!v) { return ` + jsNoVideoResult + `; }
v.muted = true;
banner();
return JSON.stringify({ok:true});`)
}

func jsUnmuteAndClearBanner() string {
	return wrapJSEval(`
var v = document.querySelector("video");
if (v) { v.muted = false; }
var b = document.getElementById(` + jsString(bannerID) + `);
if (b) { b.remove(); }
return JSON.stringify({ok:true});`)
}

func jsVideoCommand(command string) string {
	return wrapJSEval(`
var v = document.querySelector("video");
if (!v) { return JSON.stringify({ok:true,data:{ok:false,error:"No video element found"}}); }
switch (` + jsString(command) + `) {
  case "play": v.play(); break;
  case "pause": v.pause(); break;
  case "mute": v.muted = true; break;
  case "unmute": v.muted = false; break;
  case "status": break;
  default: return JSON.stringify({ok:true,data:{ok:false,error:"Unknown message type"}});
}
return JSON.stringify({ok:true,data:{ok:true,paused:v.paused,muted:v.muted,currentTime:v.currentTime,duration:isFinite(v.duration)?v.duration:0}});`)
}

func jsShowOverlay(text, color string, ttlMS int) string {
	return wrapJSEval(`
var v = document.querySelector("video");
var host = (v && v.parentElement) || document.body;
var old = document.getElementById(` + jsString(overlayID) + `);
if (old) { old.remove(); }
var el = document.createElement("div");
el.id = ` + jsString(overlayID) + `;
el.textContent = ` + jsString(text) + `;
el.style.cssText = "position:absolute;left:5%;right:5%;bottom:12%;z-index:2147483647;padding:8px 14px;background:rgba(15,23,42,.85);color:#fff;font:600 18px sans-serif;border-left:4px solid " + ` + jsString(color) + ` + ";pointer-events:none";
host.appendChild(el);
setTimeout(function() { if (el.parentElement) el.remove(); }, ` + strconv.Itoa(ttlMS) + `);
return JSON.stringify({ok:true});`)
}
