package devserver

import "fmt"

const clientPath = "/__polybem/client.js"

const clientScript = `(function () {
  var notify = %t;
  var badge;

  function show(msg) {
    if (!notify) return;
    if (!badge) {
      badge = document.createElement("div");
      badge.style.cssText = "position:fixed;top:0;right:0;z-index:9999;padding:6px 12px;" +
        "font:13px sans-serif;color:#fff;background:#1b1b1b;opacity:.85";
      document.body.appendChild(badge);
    }
    badge.textContent = msg;
    badge.style.display = "block";
    clearTimeout(badge.timer);
    badge.timer = setTimeout(function () { badge.style.display = "none"; }, 2000);
  }

  function refreshStyles() {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      var href = links[i].href.replace(/[?&]__polybem=\d+/, "");
      links[i].href = href + (href.indexOf("?") < 0 ? "?" : "&") + "__polybem=" + Date.now();
    }
  }

  var source = new EventSource(%q);
  source.addEventListener("open", function () { show("Connected to Poly-Bem"); });
  source.addEventListener(%q, function () { location.reload(); });
  source.addEventListener(%q, function () { refreshStyles(); show("Injected CSS"); });
})();
`

func renderClient(notify bool) []byte {
	return []byte(fmt.Sprintf(clientScript, notify, eventsPath, NoticeReload, NoticeCSS))
}

const scriptTag = `<script src="` + clientPath + `"></script>`
