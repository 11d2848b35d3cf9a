// Package i18n translates user-facing error messages. English is the source
// language; other languages fall back to it for unknown messages.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

const (
	English = "en"
	Persian = "fa"
)

var matcher = language.NewMatcher([]language.Tag{language.English, language.Persian})

var catalogs = map[string]map[string]string{
	Persian: {
		"invalid request":                   "درخواست نامعتبر است",
		"missing authorization token":       "توکن احراز هویت ارسال نشده است",
		"invalid token":                     "توکن نامعتبر است",
		"unauthorized":                      "دسترسی غیرمجاز",
		"user not found":                    "کاربر یافت نشد",
		"room not found":                    "گفتگو یافت نشد",
		"message not found":                 "پیام یافت نشد",
		"group not found":                   "گروه یافت نشد",
		"friend request not found":          "درخواست دوستی یافت نشد",
		"rate limit exceeded":               "تعداد درخواست ها بیش از حد مجاز است",
		"rate limiter error":                "خطا در محدودسازی درخواست ها",
		"internal server error":             "خطای داخلی سرور",
		"not found":                         "یافت نشد",
		"websocket upgrade failed":          "خطا در برقراری اتصال وب سوکت",
		"service temporarily unavailable":   "سرویس موقتا در دسترس نیست",
		"invalid username or password":      "نام کاربری یا رمز عبور اشتباه است",
		"username already exists":           "این نام کاربری قبلا ثبت شده است",
		"password must be at least 6 characters":                      "رمز عبور باید حداقل ۶ کاراکتر باشد",
		"username must be between 3 and 32 characters":                "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
		"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
		"message text is required":                                    "متن پیام الزامی است",
		"message is too long":                                         "پیام بیش از حد طولانی است",
		"media url is invalid":                                        "آدرس رسانه نامعتبر است",
		"you are not a participant of this room":                      "شما عضو این گفتگو نیستید",
		"not a participant":                                           "شما عضو این گفتگو نیستید",
		"you cannot message this user":                                "امکان ارسال پیام به این کاربر وجود ندارد",
		"you can only edit your own messages":                         "فقط پیام های خودتان قابل ویرایش است",
		"you can only delete your own messages":                       "فقط پیام های خودتان قابل حذف است",
		"cannot open a chat with yourself":                            "نمی توانید با خودتان گفتگو ایجاد کنید",
		"you cannot send a friend request to yourself":                "نمی توانید به خودتان درخواست دوستی بدهید",
		"you are already friends with this user":                      "شما قبلا با این کاربر دوست هستید",
		"you have already sent a friend request to this user":         "قبلا به این کاربر درخواست دوستی داده اید",
		"this user has already sent you a friend request":             "این کاربر قبلا به شما درخواست دوستی داده است",
		"friend request is no longer pending":                         "این درخواست دوستی دیگر در انتظار نیست",
		"already a member of this group":                              "شما قبلا عضو این گروه هستید",
		"user is already a member":                                    "این کاربر قبلا عضو گروه است",
		"group is full":                                               "ظرفیت گروه تکمیل است",
		"this group is invite only":                                   "عضویت در این گروه فقط با دعوت ممکن است",
		"only admins can update group settings":                       "فقط مدیران می توانند تنظیمات گروه را تغییر دهند",
		"only the owner can delete the group":                         "فقط مالک گروه می تواند آن را حذف کند",
	},
}

var prefixCatalogs = map[string]map[string]string{
	Persian: {
		"failed to hash password:":   "خطا در پردازش رمز عبور",
		"failed to sign token:":      "خطا در امضای توکن",
		"failed to parse token:":     "توکن نامعتبر است",
		"unexpected signing method:": "روش امضای توکن نامعتبر است",
	},
}

// Negotiate picks a supported language from an Accept-Language header.
func Negotiate(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return English
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No || index != 1 {
		return English
	}
	return Persian
}

// Translate returns message in lang, or message itself when no
// translation exists.
func Translate(lang, message string) string {
	if translated, ok := catalogs[lang][message]; ok {
		return translated
	}
	for prefix, translated := range prefixCatalogs[lang] {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
